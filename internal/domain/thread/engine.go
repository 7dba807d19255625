package thread

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mbaxszy7/mnemora/internal/llm"
	"github.com/mbaxszy7/mnemora/internal/usage"
)

// textCapability names the gate capability clustering calls run under.
const textCapability = "text"

// assignOperation labels clustering calls in usage stats and traces.
const assignOperation = "assign_batch"

// SlotGate is the engine's view of the call gate.
type SlotGate interface {
	WithSlot(ctx context.Context, capability string, fn func(ctx context.Context) error) error
	RecordSuccess(capability string)
	RecordFailure(capability string, callErr error)
}

// EngineConfig bounds the clustering payload and names the model.
type EngineConfig struct {
	// MaxActiveThreads caps the active candidate set.
	MaxActiveThreads int
	// FallbackRecentThreads caps the non-closed fallback set used when no
	// thread is active.
	FallbackRecentThreads int
	// RecentNodesPerThread caps the history shown per candidate thread.
	RecentNodesPerThread int
	// Model names the reasoning model.
	Model string
	// Temperature for the clustering call.
	Temperature float32
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxActiveThreads:      8,
		FallbackRecentThreads: 5,
		RecentNodesPerThread:  6,
		Model:                 "gemini-2.5-flash",
		Temperature:           0.2,
	}
}

// AssignOutcome is the result of one clustering call.
type AssignOutcome struct {
	Decision            *Decision
	ConsideredThreadIDs []string
	Usage               llm.Usage
}

// Engine is the thread assignment engine. It makes exactly one model
// attempt per batch; retry policy belongs to the caller.
type Engine struct {
	threads ThreadRepository
	nodes   NodeRepository
	gate    SlotGate
	client  llm.Client
	usage   *usage.Tracker
	traces  llm.TraceStore
	logger  *slog.Logger
	cfg     EngineConfig

	now func() time.Time
}

// NewEngine wires the engine. traces may be nil to disable trace recording.
func NewEngine(
	threads ThreadRepository,
	nodes NodeRepository,
	slotGate SlotGate,
	client llm.Client,
	tracker *usage.Tracker,
	traces llm.TraceStore,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxActiveThreads <= 0 {
		cfg.MaxActiveThreads = 8
	}
	if cfg.FallbackRecentThreads <= 0 {
		cfg.FallbackRecentThreads = 5
	}
	if cfg.RecentNodesPerThread <= 0 {
		cfg.RecentNodesPerThread = 6
	}
	return &Engine{
		threads: threads,
		nodes:   nodes,
		gate:    slotGate,
		client:  client,
		usage:   tracker,
		traces:  traces,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// AssignBatch clusters one batch of extracted nodes. It loads candidate
// threads with recent history, calls the model through the gate, and
// returns the validated decision. No thread or node writes happen here;
// callers apply the decision via ApplyDecision.
func (e *Engine) AssignBatch(ctx context.Context, batchID string, batch []*Node) (*AssignOutcome, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("assign batch %s: empty batch", batchID)
	}

	candidates, err := e.loadCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign batch %s: %w", batchID, err)
	}

	recent := make(map[string][]*Node, len(candidates))
	for _, t := range candidates {
		nodes, err := e.nodes.ListRecentByThread(ctx, t.ID, e.cfg.RecentNodesPerThread)
		if err != nil {
			return nil, fmt.Errorf("assign batch %s: load nodes for thread %s: %w", batchID, t.ID, err)
		}
		// Fetched newest-first; the model reads history chronologically.
		reverseNodes(nodes)
		recent[t.ID] = nodes
	}

	prompt, considered, err := buildPayload(e.now(), candidates, recent, batch)
	if err != nil {
		return nil, fmt.Errorf("assign batch %s: %w", batchID, err)
	}

	batchIDs := make([]string, len(batch))
	for i, n := range batch {
		batchIDs[i] = n.ID
	}

	start := e.now()
	var resp *llm.Response
	callErr := e.gate.WithSlot(ctx, textCapability, func(ctx context.Context) error {
		var genErr error
		resp, genErr = e.client.Generate(ctx, llm.Request{
			Model:       e.cfg.Model,
			System:      clusteringSystemPrompt,
			Prompt:      prompt,
			Schema:      decisionSchema(),
			Temperature: e.cfg.Temperature,
			Operation:   assignOperation,
		})
		return genErr
	})
	if callErr != nil {
		e.gate.RecordFailure(textCapability, callErr)
		e.recordUsage(ctx, llm.Usage{}, false)
		e.recordTrace(ctx, prompt, "", start, false, callErr.Error())
		e.logger.Error("clustering call failed",
			"batch_id", batchID, "model", e.cfg.Model, "error", callErr)
		return nil, fmt.Errorf("assign batch %s: %w", batchID, callErr)
	}

	result := ParseDecision(resp.Text, batchIDs, considered)
	if result.Invalid != nil {
		e.gate.RecordFailure(textCapability, ErrInvalidDecision)
		e.recordUsage(ctx, resp.Usage, false)
		e.recordTrace(ctx, prompt, resp.Text, start, false, strings.Join(result.Invalid.Errors, "; "))
		// Raw output is the only way to diagnose a schema failure.
		e.logger.Error("clustering decision rejected",
			"batch_id", batchID,
			"model", resp.Model,
			"validation_errors", result.Invalid.Errors,
			"raw_output", llm.Truncate(result.Invalid.RawText))
		return nil, fmt.Errorf("assign batch %s: %w: %s",
			batchID, ErrInvalidDecision, strings.Join(result.Invalid.Errors, "; "))
	}

	e.gate.RecordSuccess(textCapability)
	e.recordUsage(ctx, resp.Usage, true)
	e.recordTrace(ctx, prompt, resp.Text, start, true, "")
	e.logger.Info("batch assigned",
		"batch_id", batchID,
		"nodes", len(batch),
		"assignments", len(result.Valid.Assignments),
		"considered_threads", len(considered),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return &AssignOutcome{
		Decision:            result.Valid,
		ConsideredThreadIDs: considered,
		Usage:               resp.Usage,
	}, nil
}

// loadCandidates selects the thread universe shown to the model: active
// threads first, falling back to recent non-closed threads so the model
// always has some context.
func (e *Engine) loadCandidates(ctx context.Context) ([]*Thread, error) {
	active, err := e.threads.ListActive(ctx, e.cfg.MaxActiveThreads)
	if err != nil {
		return nil, fmt.Errorf("load active threads: %w", err)
	}
	if len(active) > 0 {
		return active, nil
	}
	recent, err := e.threads.ListRecent(ctx, e.cfg.FallbackRecentThreads)
	if err != nil {
		return nil, fmt.Errorf("load fallback threads: %w", err)
	}
	return recent, nil
}

// ApplyDecision writes a validated decision: creates new threads, updates
// existing ones, and reassociates the batch nodes.
func (e *Engine) ApplyDecision(ctx context.Context, dec *Decision, batch []*Node) error {
	byID := make(map[string]*Node, len(batch))
	for _, n := range batch {
		byID[n.ID] = n
	}

	for _, a := range dec.Assignments {
		first, last := assignmentSpan(a.NodeIDs, byID, e.now())

		threadID := a.ThreadID
		if threadID == NewThreadID {
			t := &Thread{
				ID:           uuid.NewString(),
				Title:        a.Title,
				Summary:      a.Summary,
				CurrentPhase: a.CurrentPhase,
				CurrentFocus: a.CurrentFocus,
				MainProject:  a.MainProject,
				Status:       StatusActive,
				StartTime:    first,
				LastActiveAt: last,
				DurationMs:   last.Sub(first).Milliseconds(),
				NodeCount:    len(a.NodeIDs),
				CreatedAt:    e.now(),
				UpdatedAt:    e.now(),
			}
			if err := e.threads.Create(ctx, t); err != nil {
				return fmt.Errorf("create thread %q: %w", a.Title, err)
			}
			threadID = t.ID
			e.logger.Info("thread created", "thread_id", t.ID, "title", t.Title, "nodes", len(a.NodeIDs))
		} else {
			t, err := e.threads.Get(ctx, threadID)
			if err != nil {
				return fmt.Errorf("load thread %s: %w", threadID, err)
			}
			t.Title = a.Title
			t.Summary = a.Summary
			t.CurrentPhase = a.CurrentPhase
			t.CurrentFocus = a.CurrentFocus
			if a.MainProject != "" {
				t.MainProject = a.MainProject
			}
			if last.After(t.LastActiveAt) {
				t.LastActiveAt = last
			}
			t.DurationMs = t.LastActiveAt.Sub(t.StartTime).Milliseconds()
			t.NodeCount += len(a.NodeIDs)
			t.UpdatedAt = e.now()
			if err := e.threads.Update(ctx, t); err != nil {
				return fmt.Errorf("update thread %s: %w", threadID, err)
			}
		}

		for _, nodeID := range a.NodeIDs {
			if err := e.nodes.AssignThread(ctx, nodeID, threadID); err != nil {
				return fmt.Errorf("assign node %s to thread %s: %w", nodeID, threadID, err)
			}
		}
	}
	return nil
}

// MarkIdle transitions a thread from active to inactive.
func (e *Engine) MarkIdle(ctx context.Context, threadID string) error {
	return e.transition(ctx, threadID, StatusInactive)
}

// Close transitions a thread to closed. Closed is terminal.
func (e *Engine) Close(ctx context.Context, threadID string) error {
	return e.transition(ctx, threadID, StatusClosed)
}

func (e *Engine) transition(ctx context.Context, threadID string, next Status) error {
	t, err := e.threads.Get(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("thread %s: %s -> %s: %w", threadID, t.Status, next, ErrInvalidTransition)
	}
	t.Status = next
	t.UpdatedAt = e.now()
	if err := e.threads.Update(ctx, t); err != nil {
		return fmt.Errorf("update thread %s: %w", threadID, err)
	}
	e.logger.Info("thread status changed", "thread_id", threadID, "status", string(next))
	return nil
}

func (e *Engine) recordUsage(ctx context.Context, u llm.Usage, success bool) {
	if e.usage == nil {
		return
	}
	if success {
		e.usage.Record(ctx, e.cfg.Model, assignOperation, u.InputTokens, u.OutputTokens)
	} else {
		e.usage.RecordFailure(ctx, e.cfg.Model, assignOperation, u.InputTokens, u.OutputTokens)
	}
}

func (e *Engine) recordTrace(ctx context.Context, prompt, response string, start time.Time, success bool, errText string) {
	if e.traces == nil {
		return
	}
	trace := &llm.ReasoningTrace{
		ID:         uuid.NewString(),
		Operation:  assignOperation,
		Model:      e.cfg.Model,
		Prompt:     llm.Truncate(prompt),
		Response:   llm.Truncate(response),
		Duration:   e.now().Sub(start),
		Success:    success,
		Error:      errText,
		OccurredAt: start,
	}
	if err := e.traces.SaveTrace(ctx, trace); err != nil {
		e.logger.Error("trace persist failed", "trace_id", trace.ID, "error", err)
	}
}

// assignmentSpan computes the event-time span covered by an assignment.
func assignmentSpan(nodeIDs []string, byID map[string]*Node, fallback time.Time) (first, last time.Time) {
	for _, id := range nodeIDs {
		n, ok := byID[id]
		if !ok || n.EventTime.IsZero() {
			continue
		}
		if first.IsZero() || n.EventTime.Before(first) {
			first = n.EventTime
		}
		if last.IsZero() || n.EventTime.After(last) {
			last = n.EventTime
		}
	}
	if first.IsZero() {
		first = fallback
	}
	if last.IsZero() {
		last = fallback
	}
	return first, last
}

func reverseNodes(nodes []*Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}
