package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"stagewise/internal/queue"
)

const taskColumns = "id, kind, stage, start_stage, status, payload, error_message, created_at, updated_at"

func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		task         queue.Task
		status       string
		payload      *string
		errorMessage *string
	)
	if err := row.Scan(
		&task.ID,
		&task.Kind,
		&task.Stage,
		&task.StartStage,
		&status,
		&payload,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = queue.Status(status)
	if payload != nil {
		task.Payload = *payload
	}
	if errorMessage != nil {
		task.ErrorMessage = *errorMessage
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func statusArgs(statuses []queue.Status) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// NewTask inserts a task of the given kind at its chain's start stage.
func (s *Store) NewTask(ctx context.Context, kind, payload string) (*queue.Task, error) {
	kind = strings.TrimSpace(kind)
	ch, ok := s.chains.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", queue.ErrUnknownKind, kind)
	}
	start := ch.Start().Completed()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO stagewise_tasks (kind, stage, start_stage, status, payload)
         VALUES ($1, $2, $2, $3, $4)
         RETURNING `+taskColumns,
		kind, start, string(queue.StatusNormal), nullableString(payload))
	task, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetByID fetches a task by identifier. It returns nil when no task exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*queue.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM stagewise_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks filtered by status set (or all tasks when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM stagewise_tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statusArgs(statuses))
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*queue.Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Resume queues suspended or failed tasks to continue from their last
// completed stage. With no ids every suspended or failed task is resumed.
func (s *Store) Resume(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE stagewise_tasks SET status = $1, error_message = NULL, updated_at = $2
        WHERE status = ANY($3)`
	args := []any{string(queue.StatusResumed), time.Now().UTC(),
		statusArgs([]queue.Status{queue.StatusSuspended, queue.StatusError})}
	if len(ids) > 0 {
		query += ` AND id = ANY($4)`
		args = append(args, ids)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("resume tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Remove deletes a task that is not in flight.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM stagewise_tasks WHERE id = $1 AND NOT (status = ANY($2))`,
		id, statusArgs([]queue.Status{queue.StatusProcessing, queue.StatusSuspended}))
	if err != nil {
		return false, fmt.Errorf("remove task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM stagewise_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[queue.Status]int)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[queue.Status(status)] = int(count)
	}
	return stats, rows.Err()
}

// ResetInterrupted repairs tasks a previous daemon left in flight, with the
// same rules as queue.Store.ResetInterrupted. With several daemons sharing
// the database it must only run while none of them is firing.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	tasks, err := s.List(ctx, queue.StatusProcessing, queue.StatusSuspended)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted tasks: %w", err)
	}
	var reset int64
	for _, task := range tasks {
		stage := queue.RollbackStage(s.chains, task.Kind, task.Stage)
		if task.Status == queue.StatusSuspended {
			if stage == task.Stage {
				continue
			}
			if err := s.UpdateStage(ctx, task.ID, stage); err != nil {
				return reset, err
			}
			reset++
			continue
		}
		if err := s.UpdateStatusError(ctx, task.ID, errors.New(queue.InterruptedReason), stage); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}
