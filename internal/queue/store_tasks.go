package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// NewTask inserts a task of the given kind at its chain's start stage.
func (s *Store) NewTask(ctx context.Context, kind, payload string) (*Task, error) {
	kind = strings.TrimSpace(kind)
	ch, ok := s.chains.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	start := ch.Start().Completed()
	timestamp := now()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (kind, stage, start_stage, status, payload, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kind,
		start,
		start,
		StatusNormal,
		nullableString(payload),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a task by identifier. It returns nil when no task exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks filtered by status set (or all tasks when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Resume queues suspended or failed tasks to continue from their last
// completed stage. With no ids every suspended or failed task is resumed.
func (s *Store) Resume(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE tasks SET status = ?, error_message = NULL, updated_at = ?
        WHERE status IN (?, ?)`
	args := []any{StatusResumed, now(), StatusSuspended, StatusError}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		args = append(args, int64Args(ids)...)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("resume tasks: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a task that is not in flight.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE id = ? AND status NOT IN (?, ?)`,
		id, StatusProcessing, StatusSuspended)
	if err != nil {
		return false, fmt.Errorf("remove task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
