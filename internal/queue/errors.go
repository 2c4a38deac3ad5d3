package queue

import (
	"errors"
	"fmt"

	"stagewise/internal/engine"
	"stagewise/internal/services"
)

var (
	// ErrNotFound is returned by guarded updates when the task does not exist.
	ErrNotFound = fmt.Errorf("task %w: %w", services.ErrNotFound, engine.ErrNotInFlight)
	// ErrConflict is returned by guarded updates when the task exists but is
	// not in flight.
	ErrConflict = fmt.Errorf("task state conflict: %w", engine.ErrNotInFlight)
	// ErrUnknownKind is returned when no chain is defined for a task kind.
	ErrUnknownKind = fmt.Errorf("%w: unknown task kind", services.ErrValidation)
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
