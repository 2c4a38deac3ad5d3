package pgqueue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"stagewise/internal/engine"
	"stagewise/internal/queue"
)

var inFlight = []string{string(queue.StatusProcessing), string(queue.StatusSuspended)}

// LoadSuspendedIDs returns the ids of suspended tasks.
func (s *Store) LoadSuspendedIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM stagewise_tasks WHERE status = $1 ORDER BY id`, string(queue.StatusSuspended))
	if err != nil {
		return nil, fmt.Errorf("load suspended ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("load suspended ids: %w", err)
	}
	return ids, nil
}

type claimedRow struct {
	ID    int64
	Kind  string
	Stage string
}

// MarkProcessingAndLoad claims eligible tasks in one statement. Rows locked
// by a concurrent claimer are skipped rather than waited on.
func (s *Store) MarkProcessingAndLoad(ctx context.Context) ([]*engine.Task, error) {
	var limit any
	if s.batch > 0 {
		limit = s.batch
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE stagewise_tasks SET status = $1, updated_at = $2
         WHERE id IN (
             SELECT id FROM stagewise_tasks
             WHERE (status = $3 AND stage = start_stage) OR status = $4
             ORDER BY id
             LIMIT $5
             FOR UPDATE SKIP LOCKED
         )
         RETURNING id, kind, stage`,
		string(queue.StatusProcessing), time.Now().UTC(),
		string(queue.StatusNormal), string(queue.StatusResumed),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowToStructByPos[claimedRow])
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}

	// RETURNING order is unspecified.
	tasks := make([]*engine.Task, 0, len(claimed))
	slices.SortFunc(claimed, func(a, b claimedRow) int { return cmp.Compare(a.ID, b.ID) })
	for _, row := range claimed {
		ch, ok := s.chains.Lookup(row.Kind)
		if !ok {
			failure := fmt.Errorf("%w: %q", queue.ErrUnknownKind, row.Kind)
			if err := s.UpdateStatusError(ctx, row.ID, failure, row.Stage); err != nil {
				return nil, err
			}
			continue
		}
		tasks = append(tasks, &engine.Task{ID: row.ID, Stage: row.Stage, Chain: ch})
	}
	return tasks, nil
}

// UpdateStage records the stage name of an in-flight task.
func (s *Store) UpdateStage(ctx context.Context, id int64, stage string) error {
	return s.updateInFlight(ctx, id, "update stage",
		`UPDATE stagewise_tasks SET stage = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		stage, time.Now().UTC(), id, inFlight)
}

// UpdateStatusDefault returns a task that ran to completion to the normal status.
func (s *Store) UpdateStatusDefault(ctx context.Context, id int64) error {
	return s.updateInFlight(ctx, id, "update status",
		`UPDATE stagewise_tasks SET status = $1, error_message = NULL, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(queue.StatusNormal), time.Now().UTC(), id, inFlight)
}

// UpdateStatusSuspended marks an in-flight task suspended.
func (s *Store) UpdateStatusSuspended(ctx context.Context, id int64) error {
	return s.updateInFlight(ctx, id, "update status",
		`UPDATE stagewise_tasks SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(queue.StatusSuspended), time.Now().UTC(), id, inFlight)
}

// UpdateStatusError marks an in-flight task failed and rolls its stage back
// to lastCompletedStage.
func (s *Store) UpdateStatusError(ctx context.Context, id int64, failure error, lastCompletedStage string) error {
	return s.updateInFlight(ctx, id, "update status",
		`UPDATE stagewise_tasks SET status = $1, stage = $2, error_message = $3, updated_at = $4
         WHERE id = $5 AND status = ANY($6)`,
		string(queue.StatusError), lastCompletedStage, nullableString(queue.FailureMessage(failure)),
		time.Now().UTC(), id, inFlight)
}

func (s *Store) updateInFlight(ctx context.Context, id int64, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s for task %d: %w", op, id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM stagewise_tasks WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s for task %d: %w", op, id, queue.ErrNotFound)
	case err != nil:
		return fmt.Errorf("%s for task %d: %w", op, id, err)
	default:
		return fmt.Errorf("%s for task %d in status %s: %w", op, id, status, queue.ErrConflict)
	}
}
