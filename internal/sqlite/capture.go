package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbaxszy7/mnemora/internal/domain/capture"
	"github.com/mbaxszy7/mnemora/internal/repository"
)

// CaptureRepository implements capture.Repository for SQLite
type CaptureRepository struct {
	db *DB
}

// NewCaptureRepository creates a new CaptureRepository
func NewCaptureRepository(db *DB) *CaptureRepository {
	return &CaptureRepository{db: db}
}

// Persist stores an admitted capture and returns its id
func (r *CaptureRepository) Persist(ctx context.Context, rec *capture.Record) (string, error) {
	query := `
		INSERT INTO capture_records (
			id, source_key, captured_at, app_hint, window_title, fingerprint, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.SourceKey,
		rec.CapturedAt,
		rec.AppHint,
		rec.WindowTitle,
		int64(rec.Fingerprint),
		rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to persist capture: %w", err)
	}

	return rec.ID, nil
}

// Get retrieves a capture record by ID
func (r *CaptureRepository) Get(ctx context.Context, id string) (*capture.Record, error) {
	query := `
		SELECT id, source_key, captured_at, app_hint, window_title, fingerprint, created_at
		FROM capture_records
		WHERE id = ?
	`

	var rec capture.Record
	var fp int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.SourceKey,
		&rec.CapturedAt,
		&rec.AppHint,
		&rec.WindowTitle,
		&fp,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture: %w", err)
	}
	rec.Fingerprint = capture.Fingerprint(fp)

	return &rec, nil
}

// ListBySource returns captures for one source, oldest first
func (r *CaptureRepository) ListBySource(ctx context.Context, sourceKey string, limit int) ([]*capture.Record, error) {
	query := `
		SELECT id, source_key, captured_at, app_hint, window_title, fingerprint, created_at
		FROM capture_records
		WHERE source_key = ?
		ORDER BY captured_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, sourceKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer rows.Close()

	var out []*capture.Record
	for rows.Next() {
		var rec capture.Record
		var fp int64
		if err := rows.Scan(
			&rec.ID,
			&rec.SourceKey,
			&rec.CapturedAt,
			&rec.AppHint,
			&rec.WindowTitle,
			&fp,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		rec.Fingerprint = capture.Fingerprint(fp)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
