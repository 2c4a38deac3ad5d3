package ipc

import (
	"time"

	"stagewise/internal/chain"
	"stagewise/internal/queue"
)

// Task is the wire form of a persisted task.
type Task struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	Stage        string    `json:"stage"`
	StartStage   string    `json:"start_stage"`
	Status       string    `json:"status"`
	Payload      string    `json:"payload,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Finished     bool      `json:"finished"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FromTask converts a stored task. ch may be nil when the kind is unknown.
func FromTask(task *queue.Task, ch *chain.Chain) Task {
	if task == nil {
		return Task{}
	}
	return Task{
		ID:           task.ID,
		Kind:         task.Kind,
		Stage:        task.Stage,
		StartStage:   task.StartStage,
		Status:       string(task.Status),
		Payload:      task.Payload,
		ErrorMessage: task.ErrorMessage,
		Finished:     task.IsFinished(ch),
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}

// ProcessorHealth describes readiness of a registered processor.
type ProcessorHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// EngineStats mirrors engine counters.
type EngineStats struct {
	Fired     int64 `json:"fired"`
	Completed int64 `json:"completed"`
	Suspended int64 `json:"suspended"`
	Failed    int64 `json:"failed"`
	Running   int   `json:"running"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and engine status.
type StatusResponse struct {
	Running      bool              `json:"running"`
	PID          int               `json:"pid"`
	LockPath     string            `json:"lock_path"`
	StorePath    string            `json:"store_path"`
	TaskStats    map[string]int    `json:"task_stats"`
	Engine       EngineStats       `json:"engine"`
	RunningTasks []int64           `json:"running_tasks"`
	Kinds        []string          `json:"kinds"`
	Processors   []ProcessorHealth `json:"processors"`
	LastFire     time.Time         `json:"last_fire"`
	LastError    string            `json:"last_error,omitempty"`
}

// FireRequest runs one fire cycle immediately.
type FireRequest struct{}

// FireResponse reports how many tasks were handed to the pool.
type FireResponse struct {
	Fired int `json:"fired"`
}

// SuspendRequest asks the engine to suspend in-flight tasks.
type SuspendRequest struct {
	IDs []int64 `json:"ids"`
}

// SuspendResponse lists the ids whose suspension was newly requested.
type SuspendResponse struct {
	Requested []int64 `json:"requested"`
	Pending   []int64 `json:"pending"`
}

// ResumeRequest resumes suspended or failed tasks. Empty list means all.
type ResumeRequest struct {
	IDs []int64 `json:"ids"`
}

// ResumeResponse reports number of resumed tasks.
type ResumeResponse struct {
	Updated int64 `json:"updated"`
}

// TaskAddRequest enqueues a new task.
type TaskAddRequest struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// TaskAddResponse contains the created task.
type TaskAddResponse struct {
	Task Task `json:"task"`
}

// TaskListRequest filters task listing by status.
type TaskListRequest struct {
	Statuses []string `json:"statuses"`
}

// TaskListResponse contains task entries.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskShowRequest fetches a single task by id.
type TaskShowRequest struct {
	ID int64 `json:"id"`
}

// TaskShowResponse contains a single task and its chain layout.
type TaskShowResponse struct {
	Task   Task     `json:"task"`
	Stages []string `json:"stages"`
}

// TaskRemoveRequest removes specific tasks by id.
type TaskRemoveRequest struct {
	IDs []int64 `json:"ids"`
}

// TaskRemoveResponse reports number of removed tasks.
type TaskRemoveResponse struct {
	Removed int64 `json:"removed"`
}
