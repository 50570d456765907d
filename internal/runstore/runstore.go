// Package runstore keeps the history of pipeline runs in PostgreSQL.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// registers the "postgres" driver
	_ "github.com/lib/pq"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"

	DefaultLimit = 50
	MaxLimit     = 1000
)

// Run is one row of roughness_runs.
type Run struct {
	RunID      string          `db:"run_id" json:"run_id"`
	Class      string          `db:"class" json:"class"`
	Extent     string          `db:"extent" json:"extent"`
	Status     string          `db:"status" json:"status"`
	ErrorKind  string          `db:"error_kind" json:"error_kind,omitempty"`
	Cached     bool            `db:"cached" json:"cached"`
	Outputs    json.RawMessage `db:"outputs" json:"outputs"`
	DurationMS int64           `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore connect: %w", err)
	}
	return &Store{db: db}, nil
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("runstore close: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS roughness_runs (
	run_id      TEXT PRIMARY KEY,
	class       TEXT NOT NULL,
	extent      TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	cached      BOOLEAN NOT NULL DEFAULT FALSE,
	outputs     JSONB NOT NULL DEFAULT '{}'::jsonb,
	duration_ms BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS roughness_runs_created_at_idx ON roughness_runs (created_at DESC)`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("runstore migrate: %w", err)
	}
	return nil
}

// Record inserts r. A repeated run id overwrites the earlier row.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if len(r.Outputs) == 0 {
		r.Outputs = json.RawMessage(`{}`)
	}
	const query = `
		INSERT INTO roughness_runs (
			run_id, class, extent, status, error_kind, cached, outputs, duration_ms, created_at
		) VALUES (
			:run_id, :class, :extent, :status, :error_kind, :cached, :outputs, :duration_ms, :created_at
		)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_kind = EXCLUDED.error_kind,
			outputs = EXCLUDED.outputs,
			duration_ms = EXCLUDED.duration_ms`

	if _, err := s.db.NamedExecContext(ctx, query, r); err != nil {
		return fmt.Errorf("runstore record %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	const query = `
		SELECT run_id, class, extent, status, error_kind, cached, outputs, duration_ms, created_at
		FROM roughness_runs
		ORDER BY created_at DESC
		LIMIT $1`

	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("runstore recent: %w", err)
	}
	return runs, nil
}
