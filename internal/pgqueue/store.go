package pgqueue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stagewise/internal/engine"
	"stagewise/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// schemaLockKey serializes schema creation across processes.
const schemaLockKey = 0x5747_5345

var _ engine.TaskStore = (*Store)(nil)

// Store manages task persistence backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	chains queue.ChainResolver
	batch  int
}

// Open connects to dsn and ensures the schema exists. batch caps the number
// of tasks one claim returns; values below 1 disable the cap.
func Open(ctx context.Context, dsn string, chains queue.ChainResolver, batch int) (*Store, error) {
	if chains == nil {
		return nil, fmt.Errorf("%w: chain resolver is required", engine.ErrConfiguration)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", engine.ErrConfiguration)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool, chains: chains, batch: batch}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(schemaLockKey)); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var version int
	err = tx.QueryRow(ctx, "SELECT version FROM stagewise_schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, "INSERT INTO stagewise_schema_version (version) VALUES ($1)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", queue.ErrSchemaMismatch, version, schemaVersion)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Path describes the connected database without credentials.
func (s *Store) Path() string {
	cfg := s.pool.Config().ConnConfig
	return fmt.Sprintf("postgres://%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
