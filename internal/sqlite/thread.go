package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/repository"
)

// ThreadRepository implements thread.ThreadRepository for SQLite
type ThreadRepository struct {
	db *DB
}

// NewThreadRepository creates a new ThreadRepository
func NewThreadRepository(db *DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

const threadColumns = `
	id, title, summary, current_phase, current_focus, main_project,
	status, start_time, last_active_at, duration_ms, node_count,
	created_at, updated_at
`

// Create inserts a new thread
func (r *ThreadRepository) Create(ctx context.Context, t *thread.Thread) error {
	query := `
		INSERT INTO threads (` + threadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Summary,
		t.CurrentPhase,
		t.CurrentFocus,
		t.MainProject,
		string(t.Status),
		t.StartTime,
		t.LastActiveAt,
		t.DurationMs,
		t.NodeCount,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// Get retrieves a thread by ID
func (r *ThreadRepository) Get(ctx context.Context, id string) (*thread.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = ?`

	t, err := scanThread(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return t, nil
}

// Update rewrites all mutable thread fields
func (r *ThreadRepository) Update(ctx context.Context, t *thread.Thread) error {
	query := `
		UPDATE threads
		SET title = ?, summary = ?, current_phase = ?, current_focus = ?,
		    main_project = ?, status = ?, last_active_at = ?,
		    duration_ms = ?, node_count = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		t.Title,
		t.Summary,
		t.CurrentPhase,
		t.CurrentFocus,
		t.MainProject,
		string(t.Status),
		t.LastActiveAt,
		t.DurationMs,
		t.NodeCount,
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListActive returns up to limit active threads, most recently active first
func (r *ThreadRepository) ListActive(ctx context.Context, limit int) ([]*thread.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE status = 'active'
		ORDER BY last_active_at DESC
		LIMIT ?
	`
	return r.list(ctx, query, limit)
}

// ListRecent returns up to limit non-closed threads, most recently active first
func (r *ThreadRepository) ListRecent(ctx context.Context, limit int) ([]*thread.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE status != 'closed'
		ORDER BY last_active_at DESC
		LIMIT ?
	`
	return r.list(ctx, query, limit)
}

// List returns up to limit threads regardless of status, most recently
// active first
func (r *ThreadRepository) List(ctx context.Context, limit int) ([]*thread.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		ORDER BY last_active_at DESC
		LIMIT ?
	`
	return r.list(ctx, query, limit)
}

func (r *ThreadRepository) list(ctx context.Context, query string, limit int) ([]*thread.Thread, error) {
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var out []*thread.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*thread.Thread, error) {
	var t thread.Thread
	var status string
	var phase, focus, project sql.NullString
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Summary,
		&phase,
		&focus,
		&project,
		&status,
		&t.StartTime,
		&t.LastActiveAt,
		&t.DurationMs,
		&t.NodeCount,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = thread.Status(status)
	t.CurrentPhase = phase.String
	t.CurrentFocus = focus.String
	t.MainProject = project.String
	return &t, nil
}
