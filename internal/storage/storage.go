// Package storage selects the task store backend named in the configuration.
package storage

import (
	"context"
	"fmt"

	"stagewise/internal/config"
	"stagewise/internal/engine"
	"stagewise/internal/pgqueue"
	"stagewise/internal/queue"
)

// Backend is the full task store surface used by the daemon and the CLI.
type Backend interface {
	engine.TaskStore

	NewTask(ctx context.Context, kind, payload string) (*queue.Task, error)
	GetByID(ctx context.Context, id int64) (*queue.Task, error)
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error)
	Resume(ctx context.Context, ids ...int64) (int64, error)
	Remove(ctx context.Context, id int64) (bool, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	ResetInterrupted(ctx context.Context) (int64, error)
	Path() string
	Close() error
}

var (
	_ Backend = (*queue.Store)(nil)
	_ Backend = (*pgqueue.Store)(nil)
)

// Open connects to the backend configured in cfg.Store.
func Open(ctx context.Context, cfg *config.Config, chains queue.ChainResolver) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", engine.ErrConfiguration)
	}
	switch cfg.Store.Driver {
	case config.DriverSQLite, "":
		store, err := queue.Open(cfg, chains)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := pgqueue.Open(ctx, cfg.Store.DSN, chains, cfg.Store.FireBatchSize)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unsupported store driver %q", engine.ErrConfiguration, cfg.Store.Driver)
	}
}
