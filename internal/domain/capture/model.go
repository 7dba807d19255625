// Package capture implements the ingestion side of the tracker: per-source
// admission, near-duplicate suppression, and batch accumulation of screen
// captures ahead of downstream extraction.
package capture

import (
	"strings"
	"time"
)

// Candidate is one raw capture offered for admission. Produced by the
// capture layer, consumed exactly once by the registry.
type Candidate struct {
	SourceKey   string
	Frame       []byte // encoded image payload (PNG or JPEG)
	CapturedAt  time.Time
	AppHint     string
	WindowTitle string
}

// Record is an admitted capture as handed to the persistence gateway.
type Record struct {
	ID          string      `json:"id"`
	SourceKey   string      `json:"source_key"`
	CapturedAt  time.Time   `json:"captured_at"`
	AppHint     string      `json:"app_hint,omitempty"`
	WindowTitle string      `json:"window_title,omitempty"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Preferences is the user's explicit selection of screens and apps to
// capture. Empty slices mean "no selection" (capture everything).
type Preferences struct {
	Screens []string `json:"screens"`
	Apps    []string `json:"apps"`
}

// Clone returns an independent copy. Preferences cross the registry
// boundary by value only; callers never alias internal state.
func (p Preferences) Clone() Preferences {
	out := Preferences{}
	if p.Screens != nil {
		out.Screens = append([]string(nil), p.Screens...)
	}
	if p.Apps != nil {
		out.Apps = append([]string(nil), p.Apps...)
	}
	return out
}

// WindowInfo describes one currently open window, as reported by the
// platform window inspector.
type WindowInfo struct {
	AppName  string `json:"app_name"`
	Title    string `json:"title"`
	OnScreen bool   `json:"on_screen"`
}

// EffectiveSources is the resolved capture set for one availability
// snapshot. A fallback flag is set per dimension when the user's selection
// matched nothing currently present and the dimension degraded to
// capture-everything.
type EffectiveSources struct {
	ScreenIDs      []string `json:"screen_ids"`
	AppNames       []string `json:"app_names"`
	ScreenFallback bool     `json:"screen_fallback"`
	AppFallback    bool     `json:"app_fallback"`
}

// ScreenKey returns the source key for a screen id.
func ScreenKey(id string) string { return "screen:" + id }

// AppKey returns the source key for an application name.
func AppKey(name string) string { return "app:" + strings.ToLower(name) }

// Keys returns the full source-key set for the effective selection.
func (e EffectiveSources) Keys() []string {
	keys := make([]string, 0, len(e.ScreenIDs)+len(e.AppNames))
	for _, id := range e.ScreenIDs {
		keys = append(keys, ScreenKey(id))
	}
	for _, name := range e.AppNames {
		keys = append(keys, AppKey(name))
	}
	return keys
}

// RejectReason explains why a candidate was not admitted.
type RejectReason string

const (
	// ReasonSourceInactive means the candidate's source key is not in the
	// current effective source set.
	ReasonSourceInactive RejectReason = "source_inactive"
	// ReasonDuplicate means the candidate's fingerprint is within the
	// duplicate threshold of the last accepted capture on the same source.
	ReasonDuplicate RejectReason = "duplicate"
)

// AddResult is the admission outcome. Rejections are expected outcomes,
// never errors.
type AddResult struct {
	Accepted bool
	Reason   RejectReason // set only when Accepted is false
	Record   *Record      // set only when Accepted is true
}

// BackpressureLevel selects a duplicate-threshold tier. Higher load means
// a tighter admission filter.
type BackpressureLevel string

const (
	BackpressureNormal   BackpressureLevel = "normal"
	BackpressureElevated BackpressureLevel = "elevated"
	BackpressureHigh     BackpressureLevel = "high"
)

// SourceStats is a point-in-time view of one source buffer, for status
// surfaces. It carries no references into registry state.
type SourceStats struct {
	SourceKey string    `json:"source_key"`
	Buffered  int       `json:"buffered"`
	OldestAt  time.Time `json:"oldest_at,omitzero"`
}
