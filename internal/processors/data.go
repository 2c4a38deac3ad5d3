package processors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stagewise/internal/engine"
	"stagewise/internal/logging"
	"stagewise/internal/queue"
	"stagewise/internal/services"
)

// DefaultTick is how often DataProcessor polls its checkpoint.
const DefaultTick = 100 * time.Millisecond

// TaskLookup loads persisted tasks for processors.
type TaskLookup interface {
	GetByID(ctx context.Context, id int64) (*queue.Task, error)
}

// DataProcessor simulates loading data: it waits for the duration given in
// the task payload ("1.5s", "250ms"; empty means no wait), checking for
// suspension every tick.
type DataProcessor struct {
	engine.NoHooks

	tasks  TaskLookup
	tick   time.Duration
	logger *slog.Logger
}

// NewDataProcessor builds a DataProcessor. A tick below 1ns uses DefaultTick.
func NewDataProcessor(tasks TaskLookup, tick time.Duration, logger *slog.Logger) *DataProcessor {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DataProcessor{tasks: tasks, tick: tick, logger: logger}
}

func (p *DataProcessor) Process(ctx context.Context, taskID int64, cp engine.Checkpoint) error {
	stage, _ := services.StageFromContext(ctx)
	task, err := loadTask(ctx, p.tasks, stage, taskID)
	if err != nil {
		return err
	}
	wait, err := ParseWait(task.Payload)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage, "parse payload",
			"Payload must be a duration such as 2s or 250ms", err)
	}
	if err := cp.Check(); err != nil {
		return err
	}

	logger := logging.WithContext(ctx, p.logger)
	logger.Debug("loading data", logging.Duration("wait", wait))
	start := time.Now()
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				return services.Wrap(services.ErrTimeout, stage, "load data", "Data load interrupted", ctx.Err())
			case <-ticker.C:
				if err := cp.Check(); err != nil {
					logger.Debug("data load suspended", logging.Duration("elapsed", time.Since(start)))
					return err
				}
			case <-timer.C:
				break loop
			}
		}
	}
	logger.Debug("data loaded", logging.Duration("elapsed", time.Since(start)))
	return nil
}

// ParseWait parses a data payload. An empty payload means no wait.
func ParseWait(payload string) (time.Duration, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0, nil
	}
	wait, err := time.ParseDuration(payload)
	if err != nil {
		return 0, err
	}
	if wait < 0 {
		return 0, fmt.Errorf("negative duration %s", payload)
	}
	return wait, nil
}

func loadTask(ctx context.Context, tasks TaskLookup, stage string, id int64) (*queue.Task, error) {
	task, err := tasks.GetByID(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stage, "load task", "Task lookup failed", err)
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, stage, "load task",
			fmt.Sprintf("Task %d no longer exists", id), nil)
	}
	return task, nil
}
