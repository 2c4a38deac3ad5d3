package engine

import (
	"context"

	"stagewise/internal/chain"
)

// Task is a fired unit of work. Stage is the persisted stage name at the
// time the task was claimed; status and payload stay with the store.
type Task struct {
	ID    int64
	Stage string
	Chain *chain.Chain
}

// TaskStore persists task progress. Every update targets a task that is in
// flight and must affect exactly that task; implementations report anything
// else with an error matching ErrNotInFlight.
type TaskStore interface {
	// LoadSuspendedIDs returns the ids of tasks currently suspended.
	LoadSuspendedIDs(ctx context.Context) ([]int64, error)
	// MarkProcessingAndLoad atomically claims every eligible task (ready at
	// its chain's start stage, or resumed) and returns them.
	MarkProcessingAndLoad(ctx context.Context) ([]*Task, error)
	UpdateStage(ctx context.Context, id int64, stage string) error
	// UpdateStatusDefault records that the chain ran to completion.
	UpdateStatusDefault(ctx context.Context, id int64) error
	UpdateStatusSuspended(ctx context.Context, id int64) error
	UpdateStatusError(ctx context.Context, id int64, failure error, lastCompletedStage string) error
}

// ProcessorRegistry resolves the processor a stage routes to.
type ProcessorRegistry interface {
	Provide(id string) (Processor, error)
}

// Processor performs the work of one stage. Long running processors should
// call cp.Check periodically and return its error when it is non-nil.
type Processor interface {
	Process(ctx context.Context, taskID int64, cp Checkpoint) error
	BeforeHooks() []Hook
	AfterHooks() []Hook
}

// Hook runs around a processor.
type Hook interface {
	Fire(ctx context.Context, taskID int64) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, taskID int64) error

func (f HookFunc) Fire(ctx context.Context, taskID int64) error { return f(ctx, taskID) }

// NoHooks can be embedded by processors that have no hooks.
type NoHooks struct{}

func (NoHooks) BeforeHooks() []Hook { return nil }

func (NoHooks) AfterHooks() []Hook { return nil }

// ProcessorFunc adapts a function to a Processor without hooks.
type ProcessorFunc func(ctx context.Context, taskID int64, cp Checkpoint) error

func (f ProcessorFunc) Process(ctx context.Context, taskID int64, cp Checkpoint) error {
	return f(ctx, taskID, cp)
}

func (ProcessorFunc) BeforeHooks() []Hook { return nil }

func (ProcessorFunc) AfterHooks() []Hook { return nil }

// Checkpoint lets a processor observe suspension requests for the task it is
// running. The zero value never reports a suspension.
type Checkpoint struct {
	engine *Engine
	taskID int64
}

// Check consumes a pending suspension request for the task and returns a
// *SuspendedError, or nil when none is pending.
func (c Checkpoint) Check() error {
	if c.engine == nil {
		return nil
	}
	return c.engine.CheckSuspended(c.taskID)
}

// TaskID returns the task the checkpoint belongs to.
func (c Checkpoint) TaskID() int64 {
	return c.taskID
}
