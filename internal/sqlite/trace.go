package sqlite

import (
	"context"
	"fmt"

	"github.com/mbaxszy7/mnemora/internal/llm"
)

// TraceStore implements llm.TraceStore for SQLite
type TraceStore struct {
	db *DB
}

// NewTraceStore creates a new TraceStore
func NewTraceStore(db *DB) *TraceStore {
	return &TraceStore{db: db}
}

// SaveTrace stores one reasoning trace
func (s *TraceStore) SaveTrace(ctx context.Context, trace *llm.ReasoningTrace) error {
	query := `
		INSERT INTO reasoning_traces (
			id, operation, model, prompt, response, duration_ms, success, error, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		trace.ID,
		trace.Operation,
		trace.Model,
		trace.Prompt,
		trace.Response,
		trace.Duration.Milliseconds(),
		trace.Success,
		trace.Error,
		trace.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}
