package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"stagewise/internal/chain"
	"stagewise/internal/logging"
	"stagewise/internal/services"
)

// runner drives one fired task through the rest of its chain.
type runner struct {
	engine *Engine
	task   *Task
	runID  string
	ctx    context.Context
	logger *slog.Logger
}

func (e *Engine) newRunner(ctx context.Context, task *Task) *runner {
	runID := e.newRunID()
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithRequestID(ctx, runID)
	return &runner{
		engine: e,
		task:   task,
		runID:  runID,
		ctx:    ctx,
		logger: logging.WithContext(ctx, e.logger),
	}
}

func (r *runner) run() {
	e := r.engine
	defer e.running.Delete(r.task.ID)
	defer func() {
		if rec := recover(); rec != nil {
			e.failed.Add(1)
			logging.ErrorWithContext(r.logger, "task run panicked", "run_panic",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "inspect the processor for the stage named in the stack"),
			)
		}
	}()

	if err := r.advance(r.ctx); err != nil {
		e.failed.Add(1)
		logging.ErrorWithContext(r.logger, "task run aborted", "run_aborted",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "task stays in its last persisted state until it is reset"),
		)
	}
}

// advance walks the chain from the task's persisted stage. A returned error
// is a run-level failure; task-level outcomes are persisted and return nil.
func (r *runner) advance(ctx context.Context) error {
	e := r.engine
	id := r.task.ID
	ch := r.task.Chain

	// An intermediate stage name means that stage never finished.
	resumeFrom, err := ch.LastCompletedStage(r.task.Stage)
	if err != nil {
		return r.fail(ctx, r.task.Stage, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}
	current, err := ch.ForName(resumeFrom)
	if err != nil {
		return r.fail(ctx, r.task.Stage, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}

	for ch.HasNext(current) {
		if err := e.CheckSuspended(id); err != nil {
			return r.suspend(ctx, "")
		}

		next, err := ch.Next(current)
		if err != nil {
			return fmt.Errorf("advance from %s: %w", current.Completed(), err)
		}

		done, err := r.runStage(ctx, current, next)
		if err != nil || done {
			return err
		}
		current = next
	}

	if err := e.CheckSuspended(id); err != nil {
		return r.suspend(ctx, "")
	}
	if err := e.store.UpdateStatusDefault(ctx, id); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	e.completed.Add(1)
	r.logger.Info("task completed",
		logging.String(logging.FieldStage, current.Completed()),
		logging.String(logging.FieldEventType, "task_complete"),
	)
	return nil
}

// runStage executes one stage. done reports that the run ended with a
// persisted task-level outcome (suspended or error).
func (r *runner) runStage(ctx context.Context, current, next chain.Stage) (done bool, err error) {
	e := r.engine
	id := r.task.ID
	stageCtx := services.WithStage(ctx, next.Intermediate())
	logger := logging.WithContext(stageCtx, e.logger)

	processor, err := e.registry.Provide(next.ProcessorID())
	if err == nil && processor == nil {
		err = errors.New("registry returned no processor")
	}
	if err != nil {
		cause := fmt.Errorf("%w: stage %s processor %q: %w", ErrConfiguration, next.Intermediate(), next.ProcessorID(), err)
		return true, r.fail(ctx, current.Completed(), cause)
	}

	if err := e.store.UpdateStage(ctx, id, next.Intermediate()); err != nil {
		return true, fmt.Errorf("persist stage %s: %w", next.Intermediate(), err)
	}

	stageStart := time.Now()
	logger.Info("stage started",
		logging.String("processor", next.ProcessorID()),
		logging.String(logging.FieldEventType, "stage_start"),
	)

	if err := runHooks(stageCtx, id, processor.BeforeHooks()); err != nil {
		return true, fmt.Errorf("before hook for stage %s: %w", next.Intermediate(), err)
	}

	if perr := processor.Process(stageCtx, id, Checkpoint{engine: e, taskID: id}); perr != nil {
		if errors.Is(perr, ErrSuspended) {
			return true, r.suspend(ctx, current.Completed())
		}
		return true, r.fail(ctx, current.Completed(), perr)
	}

	if err := runHooks(stageCtx, id, processor.AfterHooks()); err != nil {
		return true, fmt.Errorf("after hook for stage %s: %w", next.Intermediate(), err)
	}

	if err := e.store.UpdateStage(ctx, id, next.Completed()); err != nil {
		return true, fmt.Errorf("persist stage %s: %w", next.Completed(), err)
	}
	logger.Info("stage completed",
		logging.String("next_stage", next.Completed()),
		logging.Duration("stage_duration", time.Since(stageStart)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return false, nil
}

func runHooks(ctx context.Context, id int64, hooks []Hook) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook.Fire(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// suspend persists a suspended status. A non-empty rollback stage replaces
// the intermediate stage name left by an interrupted processor.
func (r *runner) suspend(ctx context.Context, rollback string) error {
	e := r.engine
	if rollback != "" {
		if err := e.store.UpdateStage(ctx, r.task.ID, rollback); err != nil {
			return fmt.Errorf("persist suspended stage %s: %w", rollback, err)
		}
	}
	if err := e.store.UpdateStatusSuspended(ctx, r.task.ID); err != nil {
		return fmt.Errorf("persist suspension: %w", err)
	}
	e.suspendedRuns.Add(1)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "task_suspended")}
	if rollback != "" {
		attrs = append(attrs, logging.String("resume_from", rollback))
	}
	r.logger.Info("task suspended", logging.Args(attrs...)...)
	return nil
}

// fail persists an error status with the stage rolled back to
// lastCompleted.
func (r *runner) fail(ctx context.Context, lastCompleted string, cause error) error {
	e := r.engine
	details := services.Details(cause)
	logging.ErrorWithContext(r.logger, "stage failed", "stage_failure",
		logging.String("resume_from", lastCompleted),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.String("error_message", strings.TrimSpace(details.Message)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "fix the cause, then resume the task"),
	)
	if err := e.store.UpdateStatusError(ctx, r.task.ID, cause, lastCompleted); err != nil {
		return fmt.Errorf("persist stage failure: %w", err)
	}
	e.failed.Add(1)
	return nil
}
