package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbaxszy7/mnemora/internal/events"
	"github.com/oklog/ulid/v2"
)

// RegistryConfig configures admission and batching behavior.
type RegistryConfig struct {
	// MinBatchSize flushes a source buffer as soon as it holds this many
	// accepted captures.
	MinBatchSize int
	// FlushTimeout flushes a non-empty buffer this long after its first item.
	FlushTimeout time.Duration
	// DuplicateThresholds maps a backpressure level to the max Hamming
	// distance at which a capture still counts as a duplicate. Higher load
	// tiers use a larger distance, tolerating fewer near-duplicates.
	DuplicateThresholds map[BackpressureLevel]int
	// InitialBackpressure selects the starting threshold tier.
	InitialBackpressure BackpressureLevel
	// PopularApps are well-known applications whose windows count as active
	// even when the window title is empty.
	PopularApps []string
}

// DefaultRegistryConfig returns production defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MinBatchSize: 5,
		FlushTimeout: 90 * time.Second,
		DuplicateThresholds: map[BackpressureLevel]int{
			BackpressureNormal:   6,
			BackpressureElevated: 10,
			BackpressureHigh:     16,
		},
		InitialBackpressure: BackpressureNormal,
		PopularApps: []string{
			"Google Chrome", "Safari", "Firefox", "Visual Studio Code",
			"Slack", "Discord", "Notion", "Figma", "Terminal", "iTerm2",
			"Obsidian", "Zoom", "Microsoft Teams",
		},
	}
}

// Registry is the per-source ingestion buffer. It filters candidates by the
// effective source set, suppresses near-duplicates against the last accepted
// capture on the same source, and accumulates accepted captures until a
// batch is ready. External code observes it only through emitted events.
type Registry struct {
	cfg    RegistryConfig
	repo   Repository
	bus    *events.Bus
	logger *slog.Logger

	mu           sync.Mutex
	prefs        Preferences
	availScreens []string
	availWindows []WindowInfo
	active       map[string]struct{}
	buffers      map[string]*sourceBuffer
	threshold    int
	popular      map[string]struct{}
	disposed     bool

	entropy *ulid.MonotonicEntropy
}

// sourceBuffer holds per-source admission state. Each source has its own
// lock; sources never coordinate with each other.
type sourceBuffer struct {
	mu      sync.Mutex
	items   []*Record
	firstAt time.Time
	timer   *time.Timer
	lastFP  Fingerprint
	hasFP   bool
}

// NewRegistry creates a registry. The repository receives every admitted
// capture; the bus carries accept and batch-ready events.
func NewRegistry(cfg RegistryConfig, repo Repository, bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 5
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 90 * time.Second
	}
	popular := make(map[string]struct{}, len(cfg.PopularApps))
	for _, app := range cfg.PopularApps {
		popular[strings.ToLower(app)] = struct{}{}
	}
	threshold, ok := cfg.DuplicateThresholds[cfg.InitialBackpressure]
	if !ok {
		threshold = 6
	}
	return &Registry{
		cfg:       cfg,
		repo:      repo,
		bus:       bus,
		logger:    logger,
		active:    make(map[string]struct{}),
		buffers:   make(map[string]*sourceBuffer),
		threshold: threshold,
		popular:   popular,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// SetPreferences stores an independent copy of the user's selection and
// recomputes the active source set against the last known availability.
func (r *Registry) SetPreferences(screens, apps []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs = Preferences{Screens: screens, Apps: apps}.Clone()
	r.recomputeActiveLocked()
}

// Preferences returns a copy of the stored selection. Mutating the result
// never changes registry state.
func (r *Registry) Preferences() Preferences {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefs.Clone()
}

// SetAvailability records what is currently present (screens and open
// windows) and recomputes the active source set.
func (r *Registry) SetAvailability(screens []string, windows []WindowInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availScreens = append([]string(nil), screens...)
	r.availWindows = append([]WindowInfo(nil), windows...)
	r.recomputeActiveLocked()
}

// EffectiveSources resolves the capture set from the stored preferences
// against the given availability snapshot. Per dimension: an empty selection
// means capture everything (not a fallback); a selection that intersects
// availability yields exactly the intersection; a selection that matches
// nothing degrades to capture-everything with the fallback flag set.
func (r *Registry) EffectiveSources(availableScreens []string, activeWindows []WindowInfo) EffectiveSources {
	r.mu.Lock()
	prefs := r.prefs.Clone()
	r.mu.Unlock()

	activeApps := r.activeAppNames(activeWindows)

	screens, screenFallback := resolveDimension(prefs.Screens, availableScreens, func(s string) string { return s })
	apps, appFallback := resolveDimension(prefs.Apps, activeApps, strings.ToLower)

	return EffectiveSources{
		ScreenIDs:      screens,
		AppNames:       apps,
		ScreenFallback: screenFallback,
		AppFallback:    appFallback,
	}
}

// resolveDimension applies the selection/fallback rule to one dimension.
// The key function canonicalizes values for intersection matching; returned
// values keep the available-side spelling.
func resolveDimension(selected, available []string, key func(string) string) (values []string, fallback bool) {
	if len(selected) == 0 {
		return dedupe(available, key), false
	}
	want := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		want[key(s)] = struct{}{}
	}
	var intersection []string
	seen := make(map[string]struct{})
	for _, a := range available {
		k := key(a)
		if _, ok := want[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		intersection = append(intersection, a)
	}
	if len(intersection) == 0 {
		return dedupe(available, key), true
	}
	return intersection, false
}

func dedupe(values []string, key func(string) string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		k := key(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// activeAppNames extracts the app names that count as active: apps with a
// titled window, plus well-known apps even when their windows are untitled.
func (r *Registry) activeAppNames(windows []WindowInfo) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, w := range windows {
		if w.AppName == "" {
			continue
		}
		if w.Title == "" {
			if _, popular := r.popular[strings.ToLower(w.AppName)]; !popular {
				continue
			}
		}
		k := strings.ToLower(w.AppName)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		names = append(names, w.AppName)
	}
	return names
}

func (r *Registry) recomputeActiveLocked() {
	prefs := r.prefs.Clone()
	screens := r.availScreens
	windows := r.availWindows

	activeApps := r.activeAppNames(windows)
	screenIDs, _ := resolveDimension(prefs.Screens, screens, func(s string) string { return s })
	appNames, _ := resolveDimension(prefs.Apps, activeApps, strings.ToLower)

	active := make(map[string]struct{}, len(screenIDs)+len(appNames))
	for _, id := range screenIDs {
		active[ScreenKey(id)] = struct{}{}
	}
	for _, name := range appNames {
		active[AppKey(name)] = struct{}{}
	}
	r.active = active
}

// SetDuplicateThreshold adjusts the fingerprint-distance cutoff directly.
// Driven by the backpressure controller.
func (r *Registry) SetDuplicateThreshold(maxDistance int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = maxDistance
}

// SetBackpressureLevel switches to the duplicate threshold configured for
// the given load tier. Unknown levels are ignored with a warning.
func (r *Registry) SetBackpressureLevel(level BackpressureLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	threshold, ok := r.cfg.DuplicateThresholds[level]
	if !ok {
		r.logger.Warn("unknown backpressure level", "level", string(level))
		return
	}
	r.threshold = threshold
}

// Add runs admission for one candidate. Rejections are returned as results;
// the error path covers only undecodable frames and a disposed registry.
func (r *Registry) Add(ctx context.Context, cand Candidate) (AddResult, error) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return AddResult{}, fmt.Errorf("registry disposed")
	}
	_, sourceActive := r.active[cand.SourceKey]
	threshold := r.threshold
	r.mu.Unlock()

	if !sourceActive {
		return AddResult{Accepted: false, Reason: ReasonSourceInactive}, nil
	}

	// Fingerprint before taking any buffer lock; it is the expensive part.
	fp, err := ComputeFingerprint(cand.Frame)
	if err != nil {
		return AddResult{}, fmt.Errorf("fingerprint %s: %w", cand.SourceKey, err)
	}

	buf := r.buffer(cand.SourceKey)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	// Sliding one-step filter: compare against the most recent accepted
	// capture only, never the whole buffer.
	if buf.hasFP && fp.WithinThreshold(buf.lastFP, threshold) {
		return AddResult{Accepted: false, Reason: ReasonDuplicate}, nil
	}

	now := time.Now()
	rec := &Record{
		ID:          r.newRecordID(now),
		SourceKey:   cand.SourceKey,
		CapturedAt:  cand.CapturedAt,
		AppHint:     cand.AppHint,
		WindowTitle: cand.WindowTitle,
		Fingerprint: fp,
		CreatedAt:   now,
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = now
	}

	// Admission already happened; persistence failures are logged, not
	// propagated as rejection.
	persistCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := r.repo.Persist(persistCtx, rec); err != nil {
			r.logger.Error("capture persist failed",
				"record_id", rec.ID, "source_key", rec.SourceKey, "error", err)
		}
	}()

	buf.lastFP = fp
	buf.hasFP = true
	buf.items = append(buf.items, rec)
	if len(buf.items) == 1 {
		buf.firstAt = now
		buf.timer = time.AfterFunc(r.cfg.FlushTimeout, func() { r.flushExpired(cand.SourceKey) })
	}

	r.bus.PublishCaptureAccepted(events.CaptureAccepted{
		SourceKey: cand.SourceKey,
		Record:    itemFromRecord(rec),
	})

	if len(buf.items) >= r.cfg.MinBatchSize || now.Sub(buf.firstAt) >= r.cfg.FlushTimeout {
		r.flushLocked(cand.SourceKey, buf)
	}

	return AddResult{Accepted: true, Record: rec}, nil
}

// flushExpired is the timer path: flush whatever accumulated since the
// buffer's first item.
func (r *Registry) flushExpired(sourceKey string) {
	r.mu.Lock()
	buf, ok := r.buffers[sourceKey]
	disposed := r.disposed
	r.mu.Unlock()
	if !ok || disposed {
		return
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if len(buf.items) == 0 {
		buf.timer = nil
		return
	}
	r.flushLocked(sourceKey, buf)
}

// flushLocked emits a batch-ready event with exactly the buffered items and
// resets the buffer. Caller holds buf.mu.
func (r *Registry) flushLocked(sourceKey string, buf *sourceBuffer) {
	items := make([]events.CaptureItem, len(buf.items))
	for i, rec := range buf.items {
		items[i] = itemFromRecord(rec)
	}

	buf.items = nil
	buf.firstAt = time.Time{}
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}

	batchID := uuid.NewString()
	r.logger.Debug("batch ready",
		"source_key", sourceKey, "batch_id", batchID, "items", len(items))
	r.bus.PublishBatchReady(events.BatchReady{
		SourceKey: sourceKey,
		BatchID:   batchID,
		Items:     items,
	})
}

// Stats returns a snapshot of every non-empty source buffer, sorted by key.
func (r *Registry) Stats() []SourceStats {
	r.mu.Lock()
	buffers := make(map[string]*sourceBuffer, len(r.buffers))
	for k, v := range r.buffers {
		buffers[k] = v
	}
	r.mu.Unlock()

	var stats []SourceStats
	for key, buf := range buffers {
		buf.mu.Lock()
		if len(buf.items) > 0 {
			stats = append(stats, SourceStats{
				SourceKey: key,
				Buffered:  len(buf.items),
				OldestAt:  buf.firstAt,
			})
		}
		buf.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].SourceKey < stats[j].SourceKey })
	return stats
}

// ActiveSourceKeys returns the current effective source keys, sorted.
func (r *Registry) ActiveSourceKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for k := range r.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dispose cancels every outstanding flush timer and clears all buffers.
// Buffered items are discarded, not flushed. Idempotent.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	buffers := r.buffers
	r.buffers = make(map[string]*sourceBuffer)
	r.mu.Unlock()

	for _, buf := range buffers {
		buf.mu.Lock()
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
		}
		buf.items = nil
		buf.firstAt = time.Time{}
		buf.mu.Unlock()
	}
}

func (r *Registry) buffer(sourceKey string) *sourceBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[sourceKey]
	if !ok {
		buf = &sourceBuffer{}
		r.buffers[sourceKey] = buf
	}
	return buf
}

func (r *Registry) newRecordID(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
}

func itemFromRecord(rec *Record) events.CaptureItem {
	return events.CaptureItem{
		RecordID:    rec.ID,
		SourceKey:   rec.SourceKey,
		CapturedAt:  rec.CapturedAt,
		AppHint:     rec.AppHint,
		WindowTitle: rec.WindowTitle,
	}
}
