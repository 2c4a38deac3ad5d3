package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ResetInterrupted repairs tasks a previous daemon left in flight. Processing
// tasks are failed with InterruptedReason; suspended tasks keep their status.
// Both have their stage rolled back to the last completed one. Only call it
// while no engine is running against the database.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	tasks, err := s.List(ctx, StatusProcessing, StatusSuspended)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted tasks: %w", err)
	}
	var reset int64
	for _, task := range tasks {
		stage := RollbackStage(s.chains, task.Kind, task.Stage)
		if task.Status == StatusSuspended {
			if stage == task.Stage {
				continue
			}
			if err := s.UpdateStage(ctx, task.ID, stage); err != nil {
				return reset, err
			}
			reset++
			continue
		}
		if err := s.UpdateStatusError(ctx, task.ID, errors.New(InterruptedReason), stage); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// RollbackStage returns the last completed stage for a persisted stage name,
// or the name unchanged when the kind or stage is unknown.
func RollbackStage(chains ChainResolver, kind, stage string) string {
	ch, ok := chains.Lookup(kind)
	if !ok {
		return stage
	}
	last, err := ch.LastCompletedStage(stage)
	if err != nil {
		return stage
	}
	return last
}

// FailureMessage is the error text persisted with an error status.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
