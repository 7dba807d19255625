package mcp

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/usage"
)

type ListThreadsParams struct {
	Status string `json:"status,omitempty" jsonschema:"filter by status: active, inactive, or closed"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of threads to return (default 20)"`
}

type ThreadSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	CurrentPhase string `json:"current_phase,omitempty"`
	CurrentFocus string `json:"current_focus,omitempty"`
	MainProject  string `json:"main_project,omitempty"`
	Status       string `json:"status"`
	LastActiveAt string `json:"last_active_at"`
	NodeCount    int    `json:"node_count"`
}

type ListThreadsResult struct {
	Threads []ThreadSummary `json:"threads"`
}

type GetThreadTimelineParams struct {
	ThreadID string `json:"thread_id" jsonschema:"the thread to read"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of nodes to return (default 50)"`
}

type TimelineNode struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Entities  []string `json:"entities,omitempty"`
	EventTime string   `json:"event_time"`
}

type GetThreadTimelineResult struct {
	Thread ThreadSummary  `json:"thread"`
	Nodes  []TimelineNode `json:"nodes"`
}

type CaptureStatusParams struct{}

type SourceBufferStatus struct {
	SourceKey string `json:"source_key"`
	Buffered  int    `json:"buffered"`
	OldestAt  string `json:"oldest_at,omitempty"`
}

type CaptureStatusResult struct {
	ActiveSources []string             `json:"active_sources"`
	Buffers       []SourceBufferStatus `json:"buffers"`
}

type UsageStatsParams struct{}

type UsageStatsResult struct {
	Stats usage.Stats `json:"stats"`
}

type ThreadLifecycleParams struct {
	ThreadID string `json:"thread_id" jsonschema:"the thread to transition"`
}

type ThreadLifecycleResult struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

func registerTools(server *sdkmcp.Server, svcs Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_threads",
		Description: "List activity threads, most recently active first, optionally filtered by status",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, params ListThreadsParams) (*sdkmcp.CallToolResult, ListThreadsResult, error) {
		limit := params.Limit
		if limit <= 0 {
			limit = 20
		}
		threads, err := svcs.Threads.List(ctx, limit)
		if err != nil {
			return nil, ListThreadsResult{}, mapToolError(err)
		}
		out := ListThreadsResult{Threads: make([]ThreadSummary, 0, len(threads))}
		for _, t := range threads {
			if params.Status != "" && string(t.Status) != params.Status {
				continue
			}
			out.Threads = append(out.Threads, summarize(t))
		}
		return nil, out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_thread_timeline",
		Description: "Get one thread with its context nodes in chronological order",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, params GetThreadTimelineParams) (*sdkmcp.CallToolResult, GetThreadTimelineResult, error) {
		limit := params.Limit
		if limit <= 0 {
			limit = 50
		}
		t, err := svcs.Threads.Get(ctx, params.ThreadID)
		if err != nil {
			return nil, GetThreadTimelineResult{}, mapToolError(err)
		}
		nodes, err := svcs.Nodes.ListByThreadChrono(ctx, params.ThreadID, limit)
		if err != nil {
			return nil, GetThreadTimelineResult{}, mapToolError(err)
		}
		out := GetThreadTimelineResult{Thread: summarize(t)}
		for _, n := range nodes {
			out.Nodes = append(out.Nodes, TimelineNode{
				ID:        n.ID,
				Kind:      string(n.Kind),
				Title:     n.Title,
				Summary:   n.Summary,
				Entities:  n.DerivedEntities(),
				EventTime: n.EventTime.Format(time.RFC3339),
			})
		}
		return nil, out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "capture_status",
		Description: "Inspect the ingestion pipeline: active capture sources and per-source buffer fill",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, params CaptureStatusParams) (*sdkmcp.CallToolResult, CaptureStatusResult, error) {
		out := CaptureStatusResult{
			ActiveSources: svcs.Captures.ActiveSourceKeys(),
		}
		for _, s := range svcs.Captures.Stats() {
			status := SourceBufferStatus{SourceKey: s.SourceKey, Buffered: s.Buffered}
			if !s.OldestAt.IsZero() {
				status.OldestAt = s.OldestAt.Format(time.RFC3339)
			}
			out.Buffers = append(out.Buffers, status)
		}
		return nil, out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "usage_stats",
		Description: "Get reasoning-model token usage, aggregated by model and operation",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, params UsageStatsParams) (*sdkmcp.CallToolResult, UsageStatsResult, error) {
		return nil, UsageStatsResult{Stats: svcs.Usage.Stats()}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "mark_thread_idle",
		Description: "Mark an active thread as inactive",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, params ThreadLifecycleParams) (*sdkmcp.CallToolResult, ThreadLifecycleResult, error) {
		if err := svcs.Lifecycle.MarkIdle(ctx, params.ThreadID); err != nil {
			return nil, ThreadLifecycleResult{}, mapToolError(err)
		}
		return nil, ThreadLifecycleResult{ThreadID: params.ThreadID, Status: string(thread.StatusInactive)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "close_thread",
		Description: "Close a thread permanently; closed threads never reactivate",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, params ThreadLifecycleParams) (*sdkmcp.CallToolResult, ThreadLifecycleResult, error) {
		if err := svcs.Lifecycle.Close(ctx, params.ThreadID); err != nil {
			return nil, ThreadLifecycleResult{}, mapToolError(err)
		}
		return nil, ThreadLifecycleResult{ThreadID: params.ThreadID, Status: string(thread.StatusClosed)}, nil
	})
}

func summarize(t *thread.Thread) ThreadSummary {
	return ThreadSummary{
		ID:           t.ID,
		Title:        t.Title,
		Summary:      t.Summary,
		CurrentPhase: t.CurrentPhase,
		CurrentFocus: t.CurrentFocus,
		MainProject:  t.MainProject,
		Status:       string(t.Status),
		LastActiveAt: t.LastActiveAt.Format(time.RFC3339),
		NodeCount:    t.NodeCount,
	}
}
