package queue

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"stagewise/internal/engine"
)

// LoadSuspendedIDs returns the ids of suspended tasks.
func (s *Store) LoadSuspendedIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE status = ? ORDER BY id`, StatusSuspended)
	if err != nil {
		return nil, fmt.Errorf("load suspended ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type claimedRow struct {
	id    int64
	kind  string
	stage string
}

// MarkProcessingAndLoad claims eligible tasks in one statement: tasks idle
// at their start stage and resumed tasks. Claimed tasks whose kind has no
// chain are failed immediately instead of being returned.
func (s *Store) MarkProcessingAndLoad(ctx context.Context) ([]*engine.Task, error) {
	ctx = ensureContext(ctx)
	limit := s.batch
	if limit < 1 {
		limit = -1
	}
	var claimed []claimedRow
	err := retryOnBusy(ctx, func() error {
		claimed = claimed[:0]
		rows, err := s.db.QueryContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ?
             WHERE id IN (
                 SELECT id FROM tasks
                 WHERE (status = ? AND stage = start_stage) OR status = ?
                 ORDER BY id
                 LIMIT ?
             )
             RETURNING id, kind, stage`,
			StatusProcessing, now(),
			StatusNormal, StatusResumed,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row claimedRow
			if err := rows.Scan(&row.id, &row.kind, &row.stage); err != nil {
				return err
			}
			claimed = append(claimed, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}

	slices.SortFunc(claimed, func(a, b claimedRow) int { return cmp.Compare(a.id, b.id) })
	tasks := make([]*engine.Task, 0, len(claimed))
	for _, row := range claimed {
		ch, ok := s.chains.Lookup(row.kind)
		if !ok {
			failure := fmt.Errorf("%w: %q", ErrUnknownKind, row.kind)
			if err := s.UpdateStatusError(ctx, row.id, failure, row.stage); err != nil {
				return nil, err
			}
			continue
		}
		tasks = append(tasks, &engine.Task{ID: row.id, Stage: row.stage, Chain: ch})
	}
	return tasks, nil
}

// UpdateStage records the stage name of an in-flight task.
func (s *Store) UpdateStage(ctx context.Context, id int64, stage string) error {
	return s.updateInFlight(ctx, id, "update stage",
		`UPDATE tasks SET stage = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		stage, now(), id, StatusProcessing, StatusSuspended)
}

// UpdateStatusDefault returns a task that ran to completion to the normal status.
func (s *Store) UpdateStatusDefault(ctx context.Context, id int64) error {
	return s.updateInFlight(ctx, id, "update status",
		`UPDATE tasks SET status = ?, error_message = NULL, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		StatusNormal, now(), id, StatusProcessing, StatusSuspended)
}

// UpdateStatusSuspended marks an in-flight task suspended.
func (s *Store) UpdateStatusSuspended(ctx context.Context, id int64) error {
	return s.updateInFlight(ctx, id, "update status",
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		StatusSuspended, now(), id, StatusProcessing, StatusSuspended)
}

// UpdateStatusError marks an in-flight task failed and rolls its stage back
// to lastCompletedStage.
func (s *Store) UpdateStatusError(ctx context.Context, id int64, failure error, lastCompletedStage string) error {
	return s.updateInFlight(ctx, id, "update status",
		`UPDATE tasks SET status = ?, stage = ?, error_message = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		StatusError, lastCompletedStage, nullableString(FailureMessage(failure)), now(), id, StatusProcessing, StatusSuspended)
}

func (s *Store) updateInFlight(ctx context.Context, id int64, op, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s for task %d: %w", op, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s for task %d: %w", op, id, err)
	}
	if affected == 1 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s for task %d: %w", op, id, ErrNotFound)
	case err != nil:
		return fmt.Errorf("%s for task %d: %w", op, id, err)
	default:
		return fmt.Errorf("%s for task %d in status %s: %w", op, id, status, ErrConflict)
	}
}
