package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id         UUID PRIMARY KEY,
	call_id    TEXT NOT NULL,
	contact_id TEXT NOT NULL DEFAULT '',
	summary    TEXT NOT NULL,
	fallback   BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS extraction_runs_call_id_idx ON extraction_runs (call_id);
CREATE INDEX IF NOT EXISTS extraction_runs_contact_id_idx ON extraction_runs (contact_id, created_at DESC);

CREATE TABLE IF NOT EXISTS extraction_fields (
	run_id     UUID NOT NULL REFERENCES extraction_runs (id) ON DELETE CASCADE,
	field_key  TEXT NOT NULL,
	value      TEXT NOT NULL,
	confidence INT NOT NULL,
	source     TEXT NOT NULL,
	PRIMARY KEY (run_id, field_key)
);`

// EnsureSchema creates the audit tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
