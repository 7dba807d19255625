package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mbaxszy7/mnemora/internal/domain/capture"
	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/events"
	"github.com/mbaxszy7/mnemora/internal/gate"
	"github.com/mbaxszy7/mnemora/internal/mcp"
	"github.com/mbaxszy7/mnemora/internal/repository/mocks"
	"github.com/mbaxszy7/mnemora/internal/sqlite"
	"github.com/mbaxszy7/mnemora/internal/usage"
	"github.com/stretchr/testify/require"
)

// newSession wires a server over in-memory transports and returns a
// connected client session.
func newSession(t *testing.T, svcs mcp.Services) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(mcp.Config{Services: svcs})
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

func newTestServices(t *testing.T) (mcp.Services, *sqlite.ThreadRepository, *sqlite.NodeRepository) {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	threads := sqlite.NewThreadRepository(db)
	nodes := sqlite.NewNodeRepository(db)

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	callGate := gate.New(gate.DefaultConfig(), bus, nil)
	t.Cleanup(callGate.Close)

	engine := thread.NewEngine(threads, nodes, callGate, &mocks.LLMClient{}, nil, nil,
		thread.DefaultEngineConfig(), nil)

	registry := capture.NewRegistry(capture.DefaultRegistryConfig(), &mocks.CaptureRepository{}, bus, nil)
	t.Cleanup(registry.Dispose)
	registry.SetAvailability([]string{"main"}, nil)

	return mcp.Services{
		Threads:   threads,
		Nodes:     nodes,
		Lifecycle: engine,
		Captures:  registry,
		Usage:     usage.NewTracker(nil, nil),
	}, threads, nodes
}

func decodeResult(t *testing.T, result *sdkmcp.CallToolResult, out any) {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %v", result.Content)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(text.Text), out))
}

func TestServer_ListsAllTools(t *testing.T) {
	svcs, _, _ := newTestServices(t)
	session := newSession(t, svcs)

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{
		"list_threads", "get_thread_timeline", "capture_status",
		"usage_stats", "mark_thread_idle", "close_thread",
	} {
		require.True(t, names[name], "missing tool %s", name)
	}
}

func TestServer_ListThreads(t *testing.T) {
	svcs, threads, _ := newTestServices(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, threads.Create(ctx, &thread.Thread{
		ID: "t1", Title: "API migration", Summary: "s", Status: thread.StatusActive,
		StartTime: now, LastActiveAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, threads.Create(ctx, &thread.Thread{
		ID: "t2", Title: "Old work", Summary: "s", Status: thread.StatusClosed,
		StartTime: now, LastActiveAt: now.Add(-time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	session := newSession(t, svcs)
	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "list_threads",
		Arguments: map[string]any{"status": "active"},
	})
	require.NoError(t, err)

	var out mcp.ListThreadsResult
	decodeResult(t, result, &out)
	require.Len(t, out.Threads, 1)
	require.Equal(t, "t1", out.Threads[0].ID)
	require.Equal(t, "API migration", out.Threads[0].Title)
}

func TestServer_ThreadTimeline(t *testing.T) {
	svcs, threads, nodes := newTestServices(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, threads.Create(ctx, &thread.Thread{
		ID: "t1", Title: "API migration", Summary: "s", Status: thread.StatusActive,
		StartTime: now, LastActiveAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	for i, id := range []string{"n1", "n2"} {
		require.NoError(t, nodes.Create(ctx, &thread.Node{
			ID: id, ThreadID: "t1", Kind: thread.NodeKindEvent,
			Title: "step", Summary: "s",
			EventTime: now.Add(time.Duration(i) * time.Minute), CreatedAt: now,
		}))
	}

	session := newSession(t, svcs)
	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "get_thread_timeline",
		Arguments: map[string]any{"thread_id": "t1"},
	})
	require.NoError(t, err)

	var out mcp.GetThreadTimelineResult
	decodeResult(t, result, &out)
	require.Equal(t, "t1", out.Thread.ID)
	require.Len(t, out.Nodes, 2)
	require.Equal(t, "n1", out.Nodes[0].ID, "chronological order")

	missing, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "get_thread_timeline",
		Arguments: map[string]any{"thread_id": "ghost"},
	})
	require.NoError(t, err)
	require.True(t, missing.IsError)
}

func TestServer_CaptureStatus(t *testing.T) {
	svcs, _, _ := newTestServices(t)
	session := newSession(t, svcs)

	result, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{
		Name: "capture_status",
	})
	require.NoError(t, err)

	var out mcp.CaptureStatusResult
	decodeResult(t, result, &out)
	require.Equal(t, []string{"screen:main"}, out.ActiveSources)
	require.Empty(t, out.Buffers)
}

func TestServer_ThreadLifecycle(t *testing.T) {
	svcs, threads, _ := newTestServices(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, threads.Create(ctx, &thread.Thread{
		ID: "t1", Title: "x", Summary: "s", Status: thread.StatusActive,
		StartTime: now, LastActiveAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	session := newSession(t, svcs)

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "mark_thread_idle",
		Arguments: map[string]any{"thread_id": "t1"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	got, err := threads.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, thread.StatusInactive, got.Status)

	result, err = session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "close_thread",
		Arguments: map[string]any{"thread_id": "t1"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	// Closed is terminal.
	result, err = session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "mark_thread_idle",
		Arguments: map[string]any{"thread_id": "t1"},
	})
	require.NoError(t, err)
	require.True(t, result.IsError)
}
