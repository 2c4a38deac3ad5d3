package engine_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"stagewise/internal/chain"
	"stagewise/internal/engine"
)

const (
	statusNormal     = "normal"
	statusProcessing = "processing"
	statusSuspended  = "suspended"
	statusResumed    = "resumed"
	statusError      = "error"
)

type memTask struct {
	stage   string
	status  string
	failure error
	chain   *chain.Chain
}

// memStore is an in-memory engine.TaskStore that records every mutation.
type memStore struct {
	mu       sync.Mutex
	tasks    map[int64]*memTask
	calls    []string
	claims   int
	failNext map[string]error
}

func newMemStore() *memStore {
	return &memStore{tasks: map[int64]*memTask{}, failNext: map[string]error{}}
}

func (s *memStore) add(id int64, ch *chain.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = &memTask{stage: ch.Start().Completed(), status: statusNormal, chain: ch}
}

func (s *memStore) set(id int64, stage, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].stage = stage
	s.tasks[id].status = status
}

func (s *memStore) get(id int64) memTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func (s *memStore) resume(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].status = statusResumed
}

func (s *memStore) mutations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *memStore) failOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

func (s *memStore) injected(method string) error {
	if err, ok := s.failNext[method]; ok {
		delete(s.failNext, method)
		return err
	}
	return nil
}

func (s *memStore) LoadSuspendedIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("LoadSuspendedIDs"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, task := range s.tasks {
		if task.status == statusSuspended {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memStore) MarkProcessingAndLoad(context.Context) ([]*engine.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if err := s.injected("MarkProcessingAndLoad"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []*engine.Task
	for _, id := range ids {
		task := s.tasks[id]
		ready := task.status == statusNormal && task.stage == task.chain.Start().Completed()
		if !ready && task.status != statusResumed {
			continue
		}
		task.status = statusProcessing
		out = append(out, &engine.Task{ID: id, Stage: task.stage, Chain: task.chain})
	}
	return out, nil
}

func (s *memStore) guard(id int64) (*memTask, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, engine.ErrNotInFlight)
	}
	if task.status != statusProcessing && task.status != statusSuspended {
		return nil, fmt.Errorf("task %d is %s: %w", id, task.status, engine.ErrNotInFlight)
	}
	return task, nil
}

func (s *memStore) UpdateStage(_ context.Context, id int64, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateStage"); err != nil {
		return err
	}
	task, err := s.guard(id)
	if err != nil {
		return err
	}
	task.stage = stage
	s.calls = append(s.calls, "stage:"+stage)
	return nil
}

func (s *memStore) UpdateStatusDefault(_ context.Context, id int64) error {
	return s.setStatus(id, statusNormal, nil, "")
}

func (s *memStore) UpdateStatusSuspended(_ context.Context, id int64) error {
	return s.setStatus(id, statusSuspended, nil, "")
}

func (s *memStore) UpdateStatusError(_ context.Context, id int64, failure error, lastCompleted string) error {
	return s.setStatus(id, statusError, failure, lastCompleted)
}

func (s *memStore) setStatus(id int64, status string, failure error, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("status:" + status); err != nil {
		return err
	}
	task, err := s.guard(id)
	if err != nil {
		return err
	}
	task.status = status
	task.failure = failure
	if stage != "" {
		task.stage = stage
	}
	s.calls = append(s.calls, "status:"+status)
	return nil
}

// registry maps processor ids to processors.
type registry map[string]engine.Processor

func (r registry) Provide(id string) (engine.Processor, error) {
	p, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("processor %q: %w", id, errUnknownProcessor)
	}
	return p, nil
}

var errUnknownProcessor = errors.New("unknown processor")

func reportChain(t *testing.T) *chain.Chain {
	t.Helper()
	ch, err := chain.NewBuilder("CREATED").
		Add("RUNNING", "DATA_LOADED", "data").
		Add("REPORTS", "FINISHED", "report").
		Build()
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	return ch
}

func newEngine(t *testing.T, store engine.TaskStore, reg engine.ProcessorRegistry) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.SyncExecutor{}, store, reg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return eng
}

func succeed(context.Context, int64, engine.Checkpoint) error { return nil }

func assertMutations(t *testing.T, store *memStore, want ...string) {
	t.Helper()
	got := store.mutations()
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected store mutations:\n got %v\nwant %v", got, want)
	}
}
