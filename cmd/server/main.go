package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mbaxszy7/mnemora/internal/config"
	"github.com/mbaxszy7/mnemora/internal/domain/capture"
	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/events"
	"github.com/mbaxszy7/mnemora/internal/gate"
	"github.com/mbaxszy7/mnemora/internal/llm"
	"github.com/mbaxszy7/mnemora/internal/mcp"
	"github.com/mbaxszy7/mnemora/internal/sqlite"
	"github.com/mbaxszy7/mnemora/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("MNEMORA_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	captureRepo := sqlite.NewCaptureRepository(db)
	threadRepo := sqlite.NewThreadRepository(db)
	nodeRepo := sqlite.NewNodeRepository(db)
	traceStore := sqlite.NewTraceStore(db)
	usageRepo := sqlite.NewUsageRepository(db)

	bus := events.NewBus()
	defer bus.Close()

	callGate := gate.New(gate.Config{
		DefaultCapacity:    cfg.Gate.DefaultCapacity,
		DefaultCallTimeout: cfg.Gate.DefaultCallTimeout(),
		Capacities:         cfg.Gate.Capacities,
		CallTimeouts:       cfg.Gate.CallTimeouts(),
		FailureThreshold:   cfg.Gate.FailureThreshold,
		FailureWindow:      cfg.Gate.FailureWindow(),
	}, bus, logger)
	defer callGate.Close()

	tracker := usage.NewTracker(usageRepo, logger)

	var client llm.Client
	if cfg.LLM.APIKey != "" {
		client, err = llm.NewGeminiClient(context.Background(), cfg.LLM.APIKey, cfg.LLM.Model, logger)
		if err != nil {
			logger.Error("failed to create llm client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("GEMINI_API_KEY not set; thread clustering disabled")
	}

	engineCfg := thread.DefaultEngineConfig()
	engineCfg.MaxActiveThreads = cfg.Clustering.MaxActiveThreads
	engineCfg.FallbackRecentThreads = cfg.Clustering.FallbackRecentThreads
	engineCfg.RecentNodesPerThread = cfg.Clustering.RecentNodesPerThread
	engineCfg.Model = cfg.LLM.Model
	engine := thread.NewEngine(threadRepo, nodeRepo, callGate, client, tracker, traceStore, engineCfg, logger)

	registryCfg := capture.DefaultRegistryConfig()
	registryCfg.MinBatchSize = cfg.Capture.MinBatchSize
	registryCfg.FlushTimeout = cfg.Capture.FlushTimeout()
	if len(cfg.Capture.DuplicateThresholds) > 0 {
		registryCfg.DuplicateThresholds = make(map[capture.BackpressureLevel]int, len(cfg.Capture.DuplicateThresholds))
		for level, threshold := range cfg.Capture.DuplicateThresholds {
			registryCfg.DuplicateThresholds[capture.BackpressureLevel(level)] = threshold
		}
	}
	if len(cfg.Capture.PopularApps) > 0 {
		registryCfg.PopularApps = cfg.Capture.PopularApps
	}
	registry := capture.NewRegistry(registryCfg, captureRepo, bus, logger)
	defer registry.Dispose()

	go watchEvents(bus, logger)

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Threads:   threadRepo,
			Nodes:     nodeRepo,
			Lifecycle: engine,
			Captures:  registry,
			Usage:     tracker,
		},
		Logger: logger,
	})

	if cfg.Transport.Mode == "stdio" {
		runStdioMode(logger, mcpServer)
	} else {
		runHTTPMode(logger, mcpServer, cfg.Server.Host, cfg.Server.Port)
	}
}

// watchEvents surfaces pipeline events in the log. Breaker trips are the
// user-visible signal that assistant features are degraded.
func watchEvents(bus *events.Bus, logger *slog.Logger) {
	sub := bus.Subscribe()
	for evt := range sub {
		switch evt.Kind {
		case events.KindBatchReady:
			logger.Info("batch ready for extraction",
				"source_key", evt.BatchReady.SourceKey,
				"batch_id", evt.BatchReady.BatchID,
				"items", len(evt.BatchReady.Items))
		case events.KindFuseTripped:
			logger.Warn("assistant features degraded",
				"capability", evt.FuseTripped.Capability,
				"failures", evt.FuseTripped.Count,
				"window", evt.FuseTripped.Window)
		}
	}
}

func runStdioMode(logger *slog.Logger, mcpServer *sdkmcp.Server) {
	logger.Info("starting stdio transport")

	transport := &sdkmcp.StdioTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	// Run blocks until stdin closes or context is canceled
	if err := mcpServer.Run(ctx, transport); err != nil {
		logger.Error("stdio server error", "error", err)
		os.Exit(1)
	}
}

func runHTTPMode(logger *slog.Logger, mcpServer *sdkmcp.Server, host string, port int) {
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			Stateless:      false,
			SessionTimeout: 30 * time.Minute,
		},
	)

	router := http.NewServeMux()
	router.Handle("/mcp", mcpHandler)
	router.Handle("/mcp/", mcpHandler)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(logger, httpServer)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureLogDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
