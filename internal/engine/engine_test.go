package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stagewise/internal/engine"
)

func TestFireRunsChainToCompletion(t *testing.T) {
	store := newMemStore()
	store.add(1, reportChain(t))
	eng := newEngine(t, store, registry{
		"data":   engine.ProcessorFunc(succeed),
		"report": engine.ProcessorFunc(succeed),
	})

	n, err := eng.Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 task fired, got %d", n)
	}
	assertMutations(t, store, "stage:RUNNING", "stage:DATA_LOADED", "stage:REPORTS", "stage:FINISHED", "status:normal")
	if got := store.get(1); got.stage != "FINISHED" || got.status != statusNormal {
		t.Fatalf("unexpected final state: stage=%s status=%s", got.stage, got.status)
	}
	stats := eng.Stats()
	if stats.Fired != 1 || stats.Completed != 1 || stats.Failed != 0 || stats.Suspended != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFireWithNoEligibleTasks(t *testing.T) {
	store := newMemStore()
	ch := reportChain(t)
	store.add(1, ch)
	store.set(1, "FINISHED", statusNormal)
	store.add(2, ch)
	store.set(2, "DATA_LOADED", statusError)
	eng := newEngine(t, store, registry{})

	n, err := eng.Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing fired, got %d", n)
	}
	if store.claims != 1 {
		t.Fatalf("expected exactly one eligibility query, got %d", store.claims)
	}
	assertMutations(t, store)
}

func TestSuspendBetweenStagesResumesAtNextStage(t *testing.T) {
	store := newMemStore()
	store.add(7, reportChain(t))

	var eng *engine.Engine
	var reportRuns atomic.Int32
	eng = newEngine(t, store, registry{
		"data": engine.ProcessorFunc(func(ctx context.Context, id int64, _ engine.Checkpoint) error {
			added, err := eng.Suspend(ctx, id)
			if err != nil || !added {
				t.Errorf("Suspend = %v, %v", added, err)
			}
			return nil
		}),
		"report": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			reportRuns.Add(1)
			return nil
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if got := store.get(7); got.stage != "DATA_LOADED" || got.status != statusSuspended {
		t.Fatalf("expected suspended at DATA_LOADED, got stage=%s status=%s", got.stage, got.status)
	}
	if reportRuns.Load() != 0 {
		t.Fatal("report processor ran despite suspension")
	}
	assertMutations(t, store, "stage:RUNNING", "status:suspended", "stage:DATA_LOADED", "status:suspended")

	if n, _ := eng.Fire(context.Background()); n != 0 {
		t.Fatalf("suspended task must not be fired, fired %d", n)
	}

	store.resume(7)
	if n, err := eng.Fire(context.Background()); err != nil || n != 1 {
		t.Fatalf("Fire after resume = %d, %v", n, err)
	}
	if reportRuns.Load() != 1 {
		t.Fatalf("expected report to run once, ran %d", reportRuns.Load())
	}
	assertMutations(t, store,
		"stage:RUNNING", "status:suspended", "stage:DATA_LOADED", "status:suspended",
		"stage:REPORTS", "stage:FINISHED", "status:normal",
	)
}

func TestSuspendAtProcessorCheckpointRollsBackStage(t *testing.T) {
	store := newMemStore()
	store.add(3, reportChain(t))

	var eng *engine.Engine
	eng = newEngine(t, store, registry{
		"data": engine.ProcessorFunc(succeed),
		"report": engine.ProcessorFunc(func(ctx context.Context, id int64, cp engine.Checkpoint) error {
			if _, err := eng.Suspend(ctx, id); err != nil {
				t.Errorf("Suspend: %v", err)
			}
			return cp.Check()
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if got := store.get(3); got.stage != "DATA_LOADED" || got.status != statusSuspended {
		t.Fatalf("expected suspended at DATA_LOADED, got stage=%s status=%s", got.stage, got.status)
	}
	assertMutations(t, store,
		"stage:RUNNING", "stage:DATA_LOADED", "stage:REPORTS",
		"status:suspended", "stage:DATA_LOADED", "status:suspended",
	)
	if eng.Stats().Suspended != 1 {
		t.Fatalf("expected one suspended run, got %+v", eng.Stats())
	}
	if err := eng.CheckSuspended(3); err != nil {
		t.Fatalf("suspension request should have been consumed, got %v", err)
	}
}

func TestSuspendDuringLastStageIsHonouredAfterChain(t *testing.T) {
	store := newMemStore()
	store.add(4, reportChain(t))

	var eng *engine.Engine
	eng = newEngine(t, store, registry{
		"data": engine.ProcessorFunc(succeed),
		"report": engine.ProcessorFunc(func(ctx context.Context, id int64, _ engine.Checkpoint) error {
			_, err := eng.Suspend(ctx, id)
			return err
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if got := store.get(4); got.stage != "FINISHED" || got.status != statusSuspended {
		t.Fatalf("expected suspended at FINISHED, got stage=%s status=%s", got.stage, got.status)
	}
}

func TestProcessorFailureRollsBackStage(t *testing.T) {
	store := newMemStore()
	store.add(5, reportChain(t))
	boom := errors.New("report backend unavailable")
	eng := newEngine(t, store, registry{
		"data": engine.ProcessorFunc(succeed),
		"report": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			return boom
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	got := store.get(5)
	if got.stage != "DATA_LOADED" || got.status != statusError {
		t.Fatalf("expected error at DATA_LOADED, got stage=%s status=%s", got.stage, got.status)
	}
	if !errors.Is(got.failure, boom) {
		t.Fatalf("expected persisted failure to be the processor error, got %v", got.failure)
	}
	assertMutations(t, store, "stage:RUNNING", "stage:DATA_LOADED", "stage:REPORTS", "status:error")
	if eng.Stats().Failed != 1 {
		t.Fatalf("expected one failed run, got %+v", eng.Stats())
	}
}

func TestMissingProcessorIsTaskError(t *testing.T) {
	store := newMemStore()
	store.add(6, reportChain(t))
	eng := newEngine(t, store, registry{"data": engine.ProcessorFunc(succeed)})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	got := store.get(6)
	if got.stage != "DATA_LOADED" || got.status != statusError {
		t.Fatalf("expected error at DATA_LOADED, got stage=%s status=%s", got.stage, got.status)
	}
	if !errors.Is(got.failure, engine.ErrConfiguration) || !errors.Is(got.failure, errUnknownProcessor) {
		t.Fatalf("expected configuration failure, got %v", got.failure)
	}
	assertMutations(t, store, "stage:RUNNING", "stage:DATA_LOADED", "status:error")
}

type hookedProcessor struct {
	trace   *[]string
	before  error
	process error
}

func (p hookedProcessor) Process(context.Context, int64, engine.Checkpoint) error {
	*p.trace = append(*p.trace, "process")
	return p.process
}

func (p hookedProcessor) BeforeHooks() []engine.Hook {
	return []engine.Hook{
		engine.HookFunc(func(context.Context, int64) error {
			*p.trace = append(*p.trace, "before")
			return p.before
		}),
	}
}

func (p hookedProcessor) AfterHooks() []engine.Hook {
	return []engine.Hook{
		engine.HookFunc(func(context.Context, int64) error {
			*p.trace = append(*p.trace, "after")
			return nil
		}),
	}
}

func TestHooksWrapProcessor(t *testing.T) {
	store := newMemStore()
	store.add(8, reportChain(t))
	var trace []string
	eng := newEngine(t, store, registry{
		"data":   hookedProcessor{trace: &trace},
		"report": hookedProcessor{trace: &trace, process: errors.New("no data")},
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	want := []string{"before", "process", "after", "before", "process"}
	if len(trace) != len(want) {
		t.Fatalf("unexpected hook trace %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("unexpected hook trace %v, want %v", trace, want)
		}
	}
}

func TestHookFailureAbortsRun(t *testing.T) {
	store := newMemStore()
	store.add(9, reportChain(t))
	var trace []string
	eng := newEngine(t, store, registry{
		"data": hookedProcessor{trace: &trace, before: errors.New("directory missing")},
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if len(trace) != 1 || trace[0] != "before" {
		t.Fatalf("processor must not run after a failed before hook, trace=%v", trace)
	}
	got := store.get(9)
	if got.stage != "RUNNING" || got.status != statusProcessing {
		t.Fatalf("expected state left as persisted, got stage=%s status=%s", got.stage, got.status)
	}
	if eng.Stats().Failed != 1 {
		t.Fatalf("expected run-level failure to be counted, got %+v", eng.Stats())
	}
}

func TestStoreFailureAbortsRun(t *testing.T) {
	store := newMemStore()
	store.add(10, reportChain(t))
	store.failOn("UpdateStage", errors.New("database is locked"))
	called := false
	eng := newEngine(t, store, registry{
		"data": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			called = true
			return nil
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if called {
		t.Fatal("processor must not run when the intermediate stage could not be persisted")
	}
	if got := store.get(10); got.status != statusProcessing || got.stage != "CREATED" {
		t.Fatalf("unexpected state: stage=%s status=%s", got.stage, got.status)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	store := newMemStore()
	store.add(11, reportChain(t))
	eng := newEngine(t, store, registry{
		"data": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			panic("nil map write")
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if eng.Stats().Failed != 1 {
		t.Fatalf("expected panic to count as a failure, got %+v", eng.Stats())
	}
	if running := eng.Running(); len(running) != 0 {
		t.Fatalf("expected no running tasks after panic, got %v", running)
	}
}

func TestSuspendReportsNewRequests(t *testing.T) {
	store := newMemStore()
	store.add(12, reportChain(t))
	store.set(12, "DATA_LOADED", statusProcessing)
	eng := newEngine(t, store, registry{})
	ctx := context.Background()

	added, err := eng.Suspend(ctx, 12)
	if err != nil || !added {
		t.Fatalf("first Suspend = %v, %v", added, err)
	}
	if got := store.get(12); got.status != statusSuspended {
		t.Fatalf("expected task marked suspended immediately, got %s", got.status)
	}
	added, err = eng.Suspend(ctx, 12)
	if err != nil || added {
		t.Fatalf("second Suspend = %v, %v", added, err)
	}
	assertMutations(t, store, "status:suspended")

	err = eng.CheckSuspended(12)
	var suspended *engine.SuspendedError
	if !errors.As(err, &suspended) || suspended.TaskID != 12 || !errors.Is(err, engine.ErrSuspended) {
		t.Fatalf("expected SuspendedError for task 12, got %v", err)
	}
	if err := eng.CheckSuspended(12); err != nil {
		t.Fatalf("request should be consumed, got %v", err)
	}
}

func TestSuspendOnIdleTaskIsNotKeptPending(t *testing.T) {
	store := newMemStore()
	store.add(13, reportChain(t))
	eng := newEngine(t, store, registry{
		"data":   engine.ProcessorFunc(succeed),
		"report": engine.ProcessorFunc(succeed),
	})
	ctx := context.Background()

	added, err := eng.Suspend(ctx, 13)
	if added || !errors.Is(err, engine.ErrNotInFlight) {
		t.Fatalf("Suspend on idle task = %v, %v", added, err)
	}
	// A rejected request is not left behind as a pending one.
	added, err = eng.Suspend(ctx, 13)
	if added || !errors.Is(err, engine.ErrNotInFlight) {
		t.Fatalf("second Suspend on idle task = %v, %v", added, err)
	}
	if err := eng.CheckSuspended(13); err != nil {
		t.Fatalf("expected no pending request, got %v", err)
	}
	if _, err := eng.Fire(ctx); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if got := store.get(13); got.stage != "FINISHED" || got.status != statusNormal {
		t.Fatalf("expected completed task, got stage=%s status=%s", got.stage, got.status)
	}
}

func TestSuspendKeepsRequestOnOtherStoreErrors(t *testing.T) {
	store := newMemStore()
	store.add(14, reportChain(t))
	store.set(14, "CREATED", statusProcessing)
	eng := newEngine(t, store, registry{})
	boom := errors.New("database is locked")
	store.failOn("status:suspended", boom)

	added, err := eng.Suspend(context.Background(), 14)
	if !added || !errors.Is(err, boom) {
		t.Fatalf("Suspend = %v, %v", added, err)
	}
	if err := eng.CheckSuspended(14); !errors.Is(err, engine.ErrSuspended) {
		t.Fatalf("expected the request to stay pending, got %v", err)
	}
}

func TestInitSeedsSuspendedIDs(t *testing.T) {
	store := newMemStore()
	store.add(14, reportChain(t))
	store.set(14, "DATA_LOADED", statusSuspended)
	store.add(15, reportChain(t))
	store.set(15, "CREATED", statusProcessing)
	eng := newEngine(t, store, registry{})

	if !errors.Is(eng.CheckSuspended(14), engine.ErrSuspended) {
		t.Fatal("expected Init to seed the suspension set")
	}
	if added, err := eng.Suspend(context.Background(), 15); !added || err != nil {
		t.Fatalf("expected unrelated id to be newly added, got %v, %v", added, err)
	}
}

func TestFireRequiresInit(t *testing.T) {
	store := newMemStore()
	eng, err := engine.New(engine.SyncExecutor{}, store, registry{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	_, err = eng.Fire(context.Background())
	if !errors.Is(err, engine.ErrNotInitialized) || !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if store.claims != 0 {
		t.Fatal("store must not be queried before Init")
	}
}

func TestInitPropagatesStoreErrors(t *testing.T) {
	store := newMemStore()
	store.failOn("LoadSuspendedIDs", errors.New("connection refused"))
	eng, err := engine.New(engine.SyncExecutor{}, store, registry{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err == nil {
		t.Fatal("expected Init error")
	}
	if _, err := eng.Fire(context.Background()); !errors.Is(err, engine.ErrNotInitialized) {
		t.Fatalf("expected engine to stay uninitialized, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	store := newMemStore()
	cases := map[string]func() (*engine.Engine, error){
		"executor": func() (*engine.Engine, error) { return engine.New(nil, store, registry{}) },
		"store":    func() (*engine.Engine, error) { return engine.New(engine.SyncExecutor{}, nil, registry{}) },
		"registry": func() (*engine.Engine, error) { return engine.New(engine.SyncExecutor{}, store, nil) },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			eng, err := build()
			if eng != nil || !errors.Is(err, engine.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v, %v", eng, err)
			}
		})
	}
}

type chainlessStore struct{ *memStore }

func (s chainlessStore) MarkProcessingAndLoad(context.Context) ([]*engine.Task, error) {
	return []*engine.Task{{ID: 1, Stage: "CREATED"}}, nil
}

func TestFireRejectsTaskWithoutChain(t *testing.T) {
	eng := newEngine(t, chainlessStore{newMemStore()}, registry{})
	n, err := eng.Fire(context.Background())
	if n != 0 || !errors.Is(err, engine.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %d, %v", n, err)
	}
}

func TestFirePropagatesClaimErrors(t *testing.T) {
	store := newMemStore()
	store.failOn("MarkProcessingAndLoad", errors.New("disk I/O error"))
	eng := newEngine(t, store, registry{})
	if _, err := eng.Fire(context.Background()); err == nil {
		t.Fatal("expected claim error")
	}
}

func TestRunningListsActiveTasks(t *testing.T) {
	store := newMemStore()
	store.add(21, reportChain(t))
	var eng *engine.Engine
	var seen []int64
	eng = newEngine(t, store, registry{
		"data": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			seen = eng.Running()
			return nil
		}),
		"report": engine.ProcessorFunc(succeed),
	})
	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if len(seen) != 1 || seen[0] != 21 {
		t.Fatalf("expected task 21 running during its stage, got %v", seen)
	}
	if len(eng.Running()) != 0 {
		t.Fatalf("expected no running tasks after completion, got %v", eng.Running())
	}
}

func TestConcurrentFireRunsEachTaskOnce(t *testing.T) {
	store := newMemStore()
	ch := reportChain(t)
	const tasks = 40
	for id := int64(1); id <= tasks; id++ {
		store.add(id, ch)
	}

	var mu sync.Mutex
	runs := map[int64]int{}
	count := func(_ context.Context, id int64, _ engine.Checkpoint) error {
		mu.Lock()
		runs[id]++
		mu.Unlock()
		return nil
	}
	pool := engine.NewPool(4, 8)
	eng, err := engine.New(pool, store, registry{
		"data":   engine.ProcessorFunc(count),
		"report": engine.ProcessorFunc(succeed),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var wg sync.WaitGroup
	var fired atomic.Int64
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := eng.Fire(context.Background())
			if err != nil {
				t.Errorf("Fire: %v", err)
			}
			fired.Add(int64(n))
		}()
	}
	wg.Wait()
	pool.Close()
	pool.Wait()

	if fired.Load() != tasks {
		t.Fatalf("expected %d tasks fired in total, got %d", tasks, fired.Load())
	}
	for id := int64(1); id <= tasks; id++ {
		if runs[id] != 1 {
			t.Fatalf("task %d ran %d times", id, runs[id])
		}
		if got := store.get(id); got.stage != "FINISHED" || got.status != statusNormal {
			t.Fatalf("task %d ended at stage=%s status=%s", id, got.stage, got.status)
		}
	}
}

func TestCheckpointZeroValue(t *testing.T) {
	var cp engine.Checkpoint
	if err := cp.Check(); err != nil {
		t.Fatalf("zero checkpoint should never suspend, got %v", err)
	}
}

func TestResumeFromIntermediateStageRerunsThatStage(t *testing.T) {
	store := newMemStore()
	store.add(1, reportChain(t))
	store.set(1, "REPORTS", statusResumed)
	var data, report atomic.Int32
	eng := newEngine(t, store, registry{
		"data": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			data.Add(1)
			return nil
		}),
		"report": engine.ProcessorFunc(func(context.Context, int64, engine.Checkpoint) error {
			report.Add(1)
			return nil
		}),
	})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if data.Load() != 0 || report.Load() != 1 {
		t.Fatalf("expected only the unfinished stage to rerun, data=%d report=%d", data.Load(), report.Load())
	}
	assertMutations(t, store, "stage:REPORTS", "stage:FINISHED", "status:normal")
}

func TestUnknownPersistedStageFailsTask(t *testing.T) {
	store := newMemStore()
	store.add(1, reportChain(t))
	store.set(1, "ARCHIVED", statusResumed)
	eng := newEngine(t, store, registry{})

	if _, err := eng.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	got := store.get(1)
	if got.status != statusError || !errors.Is(got.failure, engine.ErrConfiguration) {
		t.Fatalf("expected configuration failure, got status=%s failure=%v", got.status, got.failure)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResumeWhileRunIsActiveKeepsOneRunner(t *testing.T) {
	store := newMemStore()
	store.add(30, reportChain(t))

	var (
		active, peak, calls atomic.Int32
		started             = make(chan struct{}, 2)
		release             = make(chan struct{})
	)
	data := engine.ProcessorFunc(func(_ context.Context, _ int64, cp engine.Checkpoint) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		calls.Add(1)
		started <- struct{}{}
		<-release
		return cp.Check()
	})
	pool := engine.NewPool(4, 4)
	eng, err := engine.New(pool, store, registry{"data": data, "report": engine.ProcessorFunc(succeed)})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := context.Background()

	if n, err := eng.Fire(ctx); n != 1 || err != nil {
		t.Fatalf("Fire = %d, %v", n, err)
	}
	<-started
	if added, err := eng.Suspend(ctx, 30); !added || err != nil {
		t.Fatalf("Suspend = %v, %v", added, err)
	}
	store.resume(30)

	if n, err := eng.Fire(ctx); n != 0 || err != nil {
		t.Fatalf("Fire while the first run is active = %d, %v", n, err)
	}
	if got := store.get(30); got.status != statusSuspended {
		t.Fatalf("expected task returned to suspended, got %s", got.status)
	}

	close(release)
	waitUntil(t, "the first run to end", func() bool { return len(eng.Running()) == 0 })
	if got := store.get(30); got.stage != "CREATED" || got.status != statusSuspended {
		t.Fatalf("expected suspension honoured, got stage=%s status=%s", got.stage, got.status)
	}

	store.resume(30)
	if n, err := eng.Fire(ctx); n != 1 || err != nil {
		t.Fatalf("Fire after the run ended = %d, %v", n, err)
	}
	pool.Close()
	pool.Wait()

	if peak.Load() != 1 {
		t.Fatalf("task 30 had %d concurrent runners", peak.Load())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 data calls, got %d", calls.Load())
	}
	if got := store.get(30); got.stage != "FINISHED" || got.status != statusNormal {
		t.Fatalf("expected completed task, got stage=%s status=%s", got.stage, got.status)
	}
}

func TestFireReleasesClaimsWhenSubmitGivesUp(t *testing.T) {
	store := newMemStore()
	ch := reportChain(t)
	for id := int64(1); id <= 3; id++ {
		store.add(id, ch)
	}
	release := make(chan struct{})
	block := engine.ProcessorFunc(func(_ context.Context, _ int64, cp engine.Checkpoint) error {
		<-release
		return cp.Check()
	})
	pool := engine.NewPool(1, 1)
	eng, err := engine.New(pool, store, registry{"data": block, "report": engine.ProcessorFunc(succeed)})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	n, err := eng.Fire(ctx)
	if n != 2 || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fire on a full pool = %d, %v", n, err)
	}
	if got := store.get(3); got.status != statusSuspended || got.stage != "CREATED" {
		t.Fatalf("expected unsubmitted task suspended at CREATED, got stage=%s status=%s", got.stage, got.status)
	}
	if running := eng.Running(); len(running) != 2 {
		t.Fatalf("expected 2 submitted runs, got %v", running)
	}

	close(release)
	pool.Close()
	pool.Wait()
	for id := int64(1); id <= 2; id++ {
		if got := store.get(id); got.stage != "FINISHED" || got.status != statusNormal {
			t.Fatalf("task %d ended at stage=%s status=%s", id, got.stage, got.status)
		}
	}
}
