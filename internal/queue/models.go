package queue

import (
	"strings"
	"time"

	"stagewise/internal/chain"
)

// Status represents the lifecycle of a task.
type Status string

const (
	// StatusNormal marks a task that is idle: waiting at its start stage or
	// finished at its last stage.
	StatusNormal     Status = "normal"
	StatusProcessing Status = "processing"
	StatusSuspended  Status = "suspended"
	// StatusResumed marks a suspended or failed task queued to continue from
	// its last completed stage.
	StatusResumed Status = "resumed"
	StatusError   Status = "error"
)

// InterruptedReason is the error message recorded for tasks a stopped daemon
// left in flight.
const InterruptedReason = "interrupted by daemon restart"

var allStatuses = []Status{
	StatusNormal,
	StatusProcessing,
	StatusSuspended,
	StatusResumed,
	StatusError,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// ChainResolver maps a task kind to its stage chain. chain.Definitions
// satisfies it.
type ChainResolver interface {
	Lookup(kind string) (*chain.Chain, bool)
}

// Task is a persisted task row.
type Task struct {
	ID           int64
	Kind         string
	Stage        string
	StartStage   string
	Status       Status
	Payload      string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsInFlight reports whether a runner may currently own the task.
func (t Task) IsInFlight() bool {
	return t.Status == StatusProcessing || t.Status == StatusSuspended
}

// IsFinished reports whether the task completed its chain.
func (t Task) IsFinished(ch *chain.Chain) bool {
	if t.Status != StatusNormal || ch == nil {
		return false
	}
	stage, err := ch.ForName(t.Stage)
	return err == nil && !ch.HasNext(stage) && stage.Completed() == t.Stage
}
