package sqlite

import (
	"context"
	"fmt"

	"github.com/mbaxszy7/mnemora/internal/usage"
)

// UsageRepository implements usage.Repository for SQLite
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Append stores one usage event
func (r *UsageRepository) Append(ctx context.Context, evt *usage.Event) error {
	query := `
		INSERT INTO usage_events (
			model, operation, input_tokens, output_tokens, success, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		evt.Model,
		evt.Operation,
		evt.InputTokens,
		evt.OutputTokens,
		evt.Success,
		evt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}
	return nil
}
