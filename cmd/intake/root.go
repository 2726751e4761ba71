package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalworks/intake/internal/api"
	"github.com/signalworks/intake/internal/beacon"
	"github.com/signalworks/intake/internal/cache"
	"github.com/signalworks/intake/internal/config"
	"github.com/signalworks/intake/internal/connectivity"
	"github.com/signalworks/intake/internal/engine"
	"github.com/signalworks/intake/internal/queue"
	"github.com/signalworks/intake/internal/remote"
	"github.com/signalworks/intake/internal/storage"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Intake - local triage board daemon",
	Long:  "Runs the board API backed by a local cache and offline-capable sync queue.",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize local store (migrations, WAL mode)
	kv, err := storage.NewSQLiteKV(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Categorization-service client and teardown sink
	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey,
		&http.Client{Timeout: time.Duration(cfg.Remote.Timeout)})

	var sink queue.Sink = beacon.NoopSink{}
	if cfg.Remote.FlushURL != "" {
		sink = beacon.NewHTTPSink(cfg.Remote.FlushURL, cfg.Remote.APIKey, nil)
	}

	// 6. Cache store and sync queue, both persisted write-through
	cacheStore, err := cache.NewStore(ctx, kv, cacheKey,
		cache.WithTTL(time.Duration(cfg.Sync.CacheTTL)),
		cache.WithBufferCap(cfg.Sync.BufferCap),
	)
	if err != nil {
		return err
	}
	queueManager, err := queue.NewManager(ctx, kv, queueKey, client, sink,
		queue.WithMaxRetries(cfg.Sync.MaxRetries),
	)
	if err != nil {
		return err
	}

	// 7. Connectivity monitor, probing the service health endpoint
	monitor := connectivity.NewProbeMonitor(client, time.Duration(cfg.Sync.ProbeInterval))
	monitor.Start(ctx)
	slog.Info("connectivity monitor started", "online", monitor.Online())

	// 8. Sync engine
	eng := engine.New(cfg.Sync.Scope, cacheStore, queueManager, client, monitor,
		engine.WithSyncInterval(time.Duration(cfg.Sync.Interval)),
	)
	eng.Start(ctx)

	// 9. HTTP surface for the board UI
	handler := api.NewHandler(eng, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Stop the engine; it makes one best-effort flush of any
	// pending mutations. Rejection is not fatal: the queue is
	// persisted and replays on next start.
	if err := eng.Stop(); err != nil {
		if errors.Is(err, engine.ErrFlushRejected) {
			slog.Warn("pending mutations not flushed, will replay on next start",
				"pending", eng.PendingCount())
		} else {
			slog.Error("engine stop error", "error", err)
		}
	}

	// 11c. Stop the monitor and close the store
	monitor.Stop()
	if err := kv.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
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
