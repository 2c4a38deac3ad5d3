package engine

import (
	"errors"
	"fmt"

	"stagewise/internal/services"
)

var (
	// ErrConfiguration marks wiring problems: nil collaborators, tasks
	// without a chain, stages routed to unknown processors.
	ErrConfiguration = services.ErrConfiguration

	// ErrSuspended matches every *SuspendedError.
	ErrSuspended = errors.New("task suspended")

	// ErrNotInFlight is matched by store errors when a guarded update targets
	// a task that is neither processing nor suspended.
	ErrNotInFlight = errors.New("task not in flight")

	// ErrNotInitialized is returned by Fire before Init has completed.
	ErrNotInitialized = fmt.Errorf("%w: engine not initialized", ErrConfiguration)
)

// SuspendedError is returned from a checkpoint when a suspension was
// requested for the task. Processors should return it (or wrap it) unchanged.
type SuspendedError struct {
	TaskID int64
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("task %d suspended", e.TaskID)
}

func (e *SuspendedError) Is(target error) bool {
	return target == ErrSuspended
}
