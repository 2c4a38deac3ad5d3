package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stagewise/internal/chain"
	"stagewise/internal/config"
	"stagewise/internal/engine"
	"stagewise/internal/logging"
	"stagewise/internal/processors"
	"stagewise/internal/queue"
	"stagewise/internal/storage"
)

// ErrNotRunning is returned by operations that need a started engine.
var ErrNotRunning = errors.New("daemon not running")

// Daemon owns the engine lifecycle and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Backend
	registry *processors.Registry
	chains   chain.Definitions

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	engine  *engine.Engine
	pool    *engine.Pool
	cancel  context.CancelFunc
	done    chan struct{}

	lastFire  atomic.Int64
	lastError atomic.Value // string
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockPath     string
	StorePath    string
	TaskStats    map[queue.Status]int
	Engine       engine.Stats
	RunningTasks []int64
	Kinds        []string
	Processors   []processors.Health
	LastFire     time.Time
	LastError    string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store storage.Backend, registry *processors.Registry, chains chain.Definitions, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || registry == nil || chains == nil {
		return nil, errors.New("daemon requires config, store, processor registry, and chains")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := registry.Validate(chains); err != nil {
		return nil, err
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: registry,
		chains:   chains,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, repairs interrupted tasks, and starts
// firing on the configured interval.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stagewise daemon instance is already running")
	}

	if err := d.startEngine(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)
	go d.fireLoop(loopCtx, d.done)

	d.logger.Info("stagewise daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Path()),
		logging.Duration("fire_interval", d.cfg.FireInterval()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

func (d *Daemon) startEngine(ctx context.Context) error {
	reset, err := d.store.ResetInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("reset interrupted tasks: %w", err)
	}
	if reset > 0 {
		logging.WarnWithContext(d.logger, "repaired tasks left in flight by a previous run", "tasks_repaired",
			logging.Int64("count", reset),
			logging.String(logging.FieldErrorHint, "resume failed tasks with stagewise resume"),
		)
	}

	pool := engine.NewPool(d.cfg.Engine.Workers, d.cfg.Engine.QueueSize)
	eng, err := engine.New(pool, d.store, d.registry, engine.WithLogger(d.logger))
	if err != nil {
		pool.Close()
		return err
	}
	if err := eng.Init(ctx); err != nil {
		pool.Close()
		pool.Wait()
		return fmt.Errorf("initialize engine: %w", err)
	}
	d.pool = pool
	d.engine = eng
	return nil
}

func (d *Daemon) fireLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.cfg.FireInterval())
	defer ticker.Stop()
	for {
		d.fireOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) fireOnce(ctx context.Context) {
	n, err := d.engine.Fire(ctx)
	d.lastFire.Store(time.Now().UnixNano())
	if err != nil && ctx.Err() != nil {
		d.logger.Info("fire cycle interrupted by shutdown",
			logging.Int("fired", n),
			logging.Error(err),
		)
		return
	}
	if err != nil {
		d.lastError.Store(err.Error())
		logging.ErrorWithContext(d.logger, "fire failed", "fire_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store connectivity and chain definitions"),
		)
		return
	}
	if n > 0 {
		d.logger.Debug("fire cycle", logging.Int("fired", n))
	}
}

// Stop stops firing, requests suspension of every task the engine still
// owns, waits for the pool to drain, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	// Closing the pool first releases a fire cycle blocked on a full queue;
	// its unsubmitted claims are suspended by the engine.
	d.cancel()
	d.pool.Close()
	<-d.done

	ctx := context.Background()
	for _, id := range d.engine.Running() {
		if _, err := d.engine.Suspend(ctx, id); err != nil {
			logging.WarnWithContext(d.logger, "suspend on shutdown failed", "shutdown_suspend_failed",
				logging.Int64(logging.FieldTaskID, id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the task is repaired on the next start"),
			)
		}
	}
	d.pool.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	stats := d.engine.Stats()
	d.logger.Info("stagewise daemon stopped",
		logging.Int64("fired", stats.Fired),
		logging.Int64("completed", stats.Completed),
		logging.Int64("suspended", stats.Suspended),
		logging.Int64("failed", stats.Failed),
		logging.String(logging.FieldEventType, "daemon_stop"),
	)
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Fire runs one fire cycle immediately.
func (d *Daemon) Fire(ctx context.Context) (int, error) {
	eng, err := d.activeEngine()
	if err != nil {
		return 0, err
	}
	n, err := eng.Fire(ctx)
	d.lastFire.Store(time.Now().UnixNano())
	return n, err
}

// Suspend requests suspension of an in-flight task.
func (d *Daemon) Suspend(ctx context.Context, id int64) (bool, error) {
	eng, err := d.activeEngine()
	if err != nil {
		return false, err
	}
	return eng.Suspend(ctx, id)
}

func (d *Daemon) activeEngine() (*engine.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil, ErrNotRunning
	}
	return d.engine, nil
}

// AddTask enqueues a task of kind at its chain's start stage.
func (d *Daemon) AddTask(ctx context.Context, kind, payload string) (*queue.Task, error) {
	task, err := d.store.NewTask(ctx, kind, payload)
	if err != nil {
		return nil, err
	}
	d.logger.Info("task queued",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldKind, task.Kind),
		logging.String(logging.FieldEventType, "task_queued"),
	)
	return task, nil
}

// Resume queues suspended or failed tasks to continue. With no ids every
// suspended or failed task is resumed. Tasks whose run has not ended yet are
// skipped; they can be resumed once the run has persisted its suspension.
func (d *Daemon) Resume(ctx context.Context, ids []int64) (int64, error) {
	active := d.activeRuns()
	if len(active) == 0 {
		return d.store.Resume(ctx, ids...)
	}
	if len(ids) == 0 {
		tasks, err := d.store.List(ctx, queue.StatusSuspended, queue.StatusError)
		if err != nil {
			return 0, err
		}
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
	}
	eligible := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, busy := active[id]; busy {
			d.logger.Info("resume skipped, run still active",
				logging.Int64(logging.FieldTaskID, id),
				logging.String(logging.FieldEventType, "resume_skipped"),
			)
			continue
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return 0, nil
	}
	return d.store.Resume(ctx, eligible...)
}

// activeRuns returns the ids the engine still has a run for.
func (d *Daemon) activeRuns() map[int64]struct{} {
	d.mu.Lock()
	eng := d.engine
	d.mu.Unlock()
	if eng == nil {
		return nil
	}
	active := make(map[int64]struct{})
	for _, id := range eng.Running() {
		active[id] = struct{}{}
	}
	return active
}

// ListTasks returns tasks filtered by optional statuses.
func (d *Daemon) ListTasks(ctx context.Context, statuses []queue.Status) ([]*queue.Task, error) {
	return d.store.List(ctx, statuses...)
}

// GetTask returns a task or nil when it does not exist.
func (d *Daemon) GetTask(ctx context.Context, id int64) (*queue.Task, error) {
	return d.store.GetByID(ctx, id)
}

// RemoveTask deletes a task that is not in flight.
func (d *Daemon) RemoveTask(ctx context.Context, id int64) (bool, error) {
	return d.store.Remove(ctx, id)
}

// Chain returns the chain for a task kind.
func (d *Daemon) Chain(kind string) (*chain.Chain, bool) {
	return d.chains.Lookup(kind)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		LockPath:   d.lockPath,
		StorePath:  d.store.Path(),
		Kinds:      d.chains.Kinds(),
		Processors: d.registry.Health(ctx),
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.TaskStats = stats
	} else {
		status.LastError = err.Error()
	}
	if eng, err := d.activeEngine(); err == nil {
		status.Engine = eng.Stats()
		status.RunningTasks = eng.Running()
	}
	if nanos := d.lastFire.Load(); nanos > 0 {
		status.LastFire = time.Unix(0, nanos)
	}
	if msg, ok := d.lastError.Load().(string); ok && status.LastError == "" {
		status.LastError = msg
	}
	return status
}
