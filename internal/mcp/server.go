package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mbaxszy7/mnemora/internal/domain/capture"
	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/usage"
)

const serverInstructions = `mnemora tracks screen activity as threads of ongoing work.

Use list_threads to see recent activity threads, get_thread_timeline to read one thread's event history, capture_status to inspect the ingestion buffers, and usage_stats for reasoning-model token accounting. mark_thread_idle and close_thread manage a thread's lifecycle; closed threads are terminal.`

// ThreadStore defines the thread reads needed by MCP.
type ThreadStore interface {
	Get(ctx context.Context, id string) (*thread.Thread, error)
	List(ctx context.Context, limit int) ([]*thread.Thread, error)
}

// NodeStore defines the node reads needed by MCP.
type NodeStore interface {
	ListByThreadChrono(ctx context.Context, threadID string, limit int) ([]*thread.Node, error)
}

// ThreadLifecycle defines the lifecycle operations needed by MCP.
type ThreadLifecycle interface {
	MarkIdle(ctx context.Context, threadID string) error
	Close(ctx context.Context, threadID string) error
}

// CaptureStatus defines the ingestion introspection needed by MCP.
type CaptureStatus interface {
	Stats() []capture.SourceStats
	ActiveSourceKeys() []string
}

// UsageStats defines the usage introspection needed by MCP.
type UsageStats interface {
	Stats() usage.Stats
}

// Services contains all domain services needed by MCP.
type Services struct {
	Threads   ThreadStore
	Nodes     NodeStore
	Lifecycle ThreadLifecycle
	Captures  CaptureStatus
	Usage     UsageStats
}

// Config contains server configuration.
type Config struct {
	Services Services
	Logger   *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "mnemora",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services)

	return server
}
