package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/quill/internal/extractor"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one processed call report and the fields resolved for it.
type Run struct {
	ID        uuid.UUID
	CallID    string
	ContactID string
	Summary   string
	Fallback  bool
	CreatedAt time.Time
	Fields    extractor.FieldMap
}

// WriteRun stores a run and its fields in one transaction. A zero ID is
// replaced with a new one, which is returned.
func (s *Store) WriteRun(ctx context.Context, run Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO extraction_runs (id, call_id, contact_id, summary, fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		run.ID, run.CallID, run.ContactID, run.Summary, run.Fallback,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for key, v := range run.Fields {
		batch.Queue(`
			INSERT INTO extraction_fields (run_id, field_key, value, confidence, source)
			VALUES ($1, $2, $3, $4, $5)`,
			run.ID, key, v.Value, v.Confidence, string(v.Source),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("insert fields: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return run.ID, nil
}

// GetRun loads a run with its fields.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run := &Run{ID: id, Fields: make(extractor.FieldMap)}
	err := s.pool.QueryRow(ctx, `
		SELECT call_id, contact_id, summary, fallback, created_at
		FROM extraction_runs WHERE id = $1`, id,
	).Scan(&run.CallID, &run.ContactID, &run.Summary, &run.Fallback, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT field_key, value, confidence, source
		FROM extraction_fields WHERE run_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, source string
			v           extractor.Value
		)
		if err := rows.Scan(&key, &v.Value, &v.Confidence, &source); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		v.Source = extractor.Source(source)
		run.Fields[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return run, nil
}

// LatestRunForCall returns the most recent run ID for a call.
func (s *Store) LatestRunForCall(ctx context.Context, callID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM extraction_runs
		WHERE call_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, callID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}
