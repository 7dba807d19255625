// Package usage aggregates token consumption across reasoning calls.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Counts is the aggregate for one bucket.
type Counts struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Calls        int `json:"calls"`
	Failures     int `json:"failures"`
}

// Event is one recorded call, as persisted.
type Event struct {
	Model        string    `json:"model"`
	Operation    string    `json:"operation"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Success      bool      `json:"success"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Repository persists usage events.
type Repository interface {
	Append(ctx context.Context, evt *Event) error
}

// Stats is a point-in-time snapshot of the tracker.
type Stats struct {
	Total       Counts            `json:"total"`
	ByModel     map[string]Counts `json:"by_model"`
	ByOperation map[string]Counts `json:"by_operation"`
}

// Tracker accumulates usage in memory and appends each event to the
// repository. Persistence failures are logged and do not affect the
// in-memory aggregates.
type Tracker struct {
	repo   Repository
	logger *slog.Logger

	mu          sync.Mutex
	total       Counts
	byModel     map[string]Counts
	byOperation map[string]Counts
}

// NewTracker creates a tracker. repo may be nil for in-memory-only use.
func NewTracker(repo Repository, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:        repo,
		logger:      logger,
		byModel:     make(map[string]Counts),
		byOperation: make(map[string]Counts),
	}
}

// Record accounts a successful call.
func (t *Tracker) Record(ctx context.Context, model, operation string, inputTokens, outputTokens int) {
	t.record(ctx, model, operation, inputTokens, outputTokens, true)
}

// RecordFailure accounts a failed call. Token counts are usually zero but
// are accepted for partial responses.
func (t *Tracker) RecordFailure(ctx context.Context, model, operation string, inputTokens, outputTokens int) {
	t.record(ctx, model, operation, inputTokens, outputTokens, false)
}

func (t *Tracker) record(ctx context.Context, model, operation string, in, out int, success bool) {
	t.mu.Lock()
	bump(&t.total, in, out, success)
	m := t.byModel[model]
	bump(&m, in, out, success)
	t.byModel[model] = m
	o := t.byOperation[operation]
	bump(&o, in, out, success)
	t.byOperation[operation] = o
	t.mu.Unlock()

	if t.repo == nil {
		return
	}
	evt := &Event{
		Model:        model,
		Operation:    operation,
		InputTokens:  in,
		OutputTokens: out,
		Success:      success,
		OccurredAt:   time.Now(),
	}
	if err := t.repo.Append(ctx, evt); err != nil {
		t.logger.Error("usage event persist failed",
			"model", model, "operation", operation, "error", err)
	}
}

func bump(c *Counts, in, out int, success bool) {
	c.InputTokens += in
	c.OutputTokens += out
	c.Calls++
	if !success {
		c.Failures++
	}
}

// Stats returns a deep copy of the current aggregates.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Stats{
		Total:       t.total,
		ByModel:     make(map[string]Counts, len(t.byModel)),
		ByOperation: make(map[string]Counts, len(t.byOperation)),
	}
	for k, v := range t.byModel {
		out.ByModel[k] = v
	}
	for k, v := range t.byOperation {
		out.ByOperation[k] = v
	}
	return out
}
