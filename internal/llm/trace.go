package llm

import (
	"context"
	"time"
)

// maxTraceText caps stored prompt and response text. Full payloads can run
// to hundreds of kilobytes; traces exist for debugging, not replay.
const maxTraceText = 8192

// ReasoningTrace records one reasoning call for later inspection.
type ReasoningTrace struct {
	ID         string        `json:"id"`
	Operation  string        `json:"operation"`
	Model      string        `json:"model"`
	Prompt     string        `json:"prompt"`
	Response   string        `json:"response"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// TraceStore persists reasoning traces.
type TraceStore interface {
	SaveTrace(ctx context.Context, trace *ReasoningTrace) error
}

// Truncate bounds text for trace storage.
func Truncate(s string) string {
	if len(s) <= maxTraceText {
		return s
	}
	return s[:maxTraceText] + "... [truncated]"
}
