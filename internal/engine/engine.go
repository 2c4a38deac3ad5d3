package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"stagewise/internal/logging"
)

// Engine fires eligible tasks onto an Executor and tracks suspension
// requests for the tasks it runs. Fire calls are serialized by one lock;
// Suspend and Init by another.
type Engine struct {
	executor Executor
	store    TaskStore
	registry ProcessorRegistry
	logger   *slog.Logger
	newRunID func() string

	fireMu    sync.Mutex
	suspendMu sync.Mutex

	initialized atomic.Bool
	suspended   sync.Map // int64 -> struct{}
	running     sync.Map // int64 -> run id, from submission until the run ends

	fired         atomic.Int64
	completed     atomic.Int64
	suspendedRuns atomic.Int64
	failed        atomic.Int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the base logger for fire and run events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRunIDs replaces the correlation id generator used for each run.
func WithRunIDs(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newRunID = gen
		}
	}
}

// Stats is a snapshot of engine counters since construction.
type Stats struct {
	Fired     int64
	Completed int64
	Suspended int64
	Failed    int64
	Running   int
}

// New wires an Engine. Every collaborator is required.
func New(executor Executor, store TaskStore, registry ProcessorRegistry, opts ...Option) (*Engine, error) {
	switch {
	case executor == nil:
		return nil, fmt.Errorf("%w: executor is required", ErrConfiguration)
	case store == nil:
		return nil, fmt.Errorf("%w: task store is required", ErrConfiguration)
	case registry == nil:
		return nil, fmt.Errorf("%w: processor registry is required", ErrConfiguration)
	}
	e := &Engine{
		executor: executor,
		store:    store,
		registry: registry,
		logger:   logging.NewNop(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "engine")
	return e, nil
}

// Init seeds the suspension set from the store. It must complete before the
// first Fire.
func (e *Engine) Init(ctx context.Context) error {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()

	ids, err := e.store.LoadSuspendedIDs(ctx)
	if err != nil {
		return fmt.Errorf("load suspended tasks: %w", err)
	}
	for _, id := range ids {
		e.suspended.Store(id, struct{}{})
	}
	e.initialized.Store(true)
	e.logger.Debug("engine initialized", logging.Int("suspended", len(ids)))
	return nil
}

// Fire claims every eligible task and submits one runner per task. It
// returns the number of runners submitted. Submission blocks while the
// executor is full and stops when ctx is done; claimed tasks that were not
// submitted are released.
func (e *Engine) Fire(ctx context.Context) (int, error) {
	e.fireMu.Lock()
	defer e.fireMu.Unlock()

	if !e.initialized.Load() {
		return 0, ErrNotInitialized
	}

	tasks, err := e.store.MarkProcessingAndLoad(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim eligible tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	for _, task := range tasks {
		if task == nil {
			return 0, fmt.Errorf("%w: store returned a nil task", ErrConfiguration)
		}
		if task.Chain == nil {
			return 0, fmt.Errorf("%w: task %d has no stage chain", ErrConfiguration, task.ID)
		}
	}

	// Runs outlive the caller's request; keep its values, drop its deadline.
	runCtx := context.WithoutCancel(ctx)
	submitted := 0
	for i, task := range tasks {
		if _, busy := e.running.Load(task.ID); busy {
			e.deferClaim(runCtx, task)
			continue
		}
		e.suspended.Delete(task.ID)
		r := e.newRunner(runCtx, task)
		e.running.Store(task.ID, r.runID)
		if err := e.executor.Submit(ctx, r.run); err != nil {
			e.running.Delete(task.ID)
			e.releaseUnsubmitted(runCtx, tasks[i:], err)
			return submitted, fmt.Errorf("submit task %d: %w", task.ID, err)
		}
		submitted++
		e.fired.Add(1)
	}
	e.logger.Info("tasks fired",
		logging.Int("count", submitted),
		logging.String(logging.FieldEventType, "tasks_fired"),
	)
	return submitted, nil
}

// deferClaim handles a claimed task whose previous run has not ended. That
// only happens when the task was resumed while its runner was still working
// toward a requested suspension, so the task goes back to suspended and the
// request stays pending for the runner that owns it.
func (e *Engine) deferClaim(ctx context.Context, task *Task) {
	e.suspended.LoadOrStore(task.ID, struct{}{})
	logging.WarnWithContext(e.logger, "task claimed while its previous run is active", "claim_deferred",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldErrorHint, "resume the task again once its run has suspended"),
	)
	if err := e.store.UpdateStatusSuspended(ctx, task.ID); err != nil {
		logging.ErrorWithContext(e.logger, "failed to return task to suspended", "claim_deferred_failed",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
	}
}

// releaseUnsubmitted records a status for claimed tasks the executor did not
// take, so they do not stay marked as processing. Tasks dropped by a
// cancelled fire or a closed pool are suspended; any other refusal is a task
// error.
func (e *Engine) releaseUnsubmitted(ctx context.Context, tasks []*Task, cause error) {
	stopped := errors.Is(cause, context.Canceled) ||
		errors.Is(cause, context.DeadlineExceeded) ||
		errors.Is(cause, ErrPoolClosed)
	for _, task := range tasks {
		if _, busy := e.running.Load(task.ID); busy {
			e.deferClaim(ctx, task)
			continue
		}
		var err error
		if stopped {
			err = e.store.UpdateStatusSuspended(ctx, task.ID)
		} else {
			stage := task.Stage
			if last, lerr := task.Chain.LastCompletedStage(task.Stage); lerr == nil {
				stage = last
			}
			err = e.store.UpdateStatusError(ctx, task.ID, cause, stage)
		}
		if err != nil {
			logging.ErrorWithContext(e.logger, "failed to release unsubmitted task", "task_release_failed",
				logging.Int64(logging.FieldTaskID, task.ID),
				logging.Error(err),
			)
		}
	}
}

// Suspend requests suspension of a task and reports whether the request is
// new. A new request is also recorded in the store right away; the runner
// honours it at its next checkpoint.
func (e *Engine) Suspend(ctx context.Context, id int64) (bool, error) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()

	if _, loaded := e.suspended.LoadOrStore(id, struct{}{}); loaded {
		return false, nil
	}
	e.logger.Info("suspension requested",
		logging.Int64(logging.FieldTaskID, id),
		logging.String(logging.FieldEventType, "suspend_requested"),
	)
	if err := e.store.UpdateStatusSuspended(ctx, id); err != nil {
		if errors.Is(err, ErrNotInFlight) {
			// Nothing runs the task, so no checkpoint would consume the request.
			e.suspended.Delete(id)
			return false, fmt.Errorf("mark task %d suspended: %w", id, err)
		}
		return true, fmt.Errorf("mark task %d suspended: %w", id, err)
	}
	return true, nil
}

// CheckSuspended consumes a pending suspension request for id. It returns a
// *SuspendedError when one was pending and nil otherwise.
func (e *Engine) CheckSuspended(id int64) error {
	if _, ok := e.suspended.LoadAndDelete(id); ok {
		return &SuspendedError{TaskID: id}
	}
	return nil
}

// Running returns the ids of fired tasks whose run has not finished,
// including runs still queued on the executor, ascending.
func (e *Engine) Running() []int64 {
	var ids []int64
	e.running.Range(func(key, _ any) bool {
		ids = append(ids, key.(int64))
		return true
	})
	slices.Sort(ids)
	return ids
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Fired:     e.fired.Load(),
		Completed: e.completed.Load(),
		Suspended: e.suspendedRuns.Load(),
		Failed:    e.failed.Load(),
		Running:   len(e.Running()),
	}
}
