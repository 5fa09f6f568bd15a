// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/laguz/internal/api"
	"github.com/starford/laguz/internal/engine"
	"github.com/starford/laguz/internal/history"
	"github.com/starford/laguz/internal/mcpserver"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/sse"
	"github.com/starford/laguz/internal/state"
	"github.com/starford/laguz/internal/storage"
	"github.com/starford/laguz/internal/syncservice"
	"github.com/starford/laguz/internal/watcher"
)

// stateFlushInterval bounds how much sync state a crash can lose.
const stateFlushInterval = 5 * time.Second

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("state_path", cfg.State.Path),
		slog.String("remote_url", cfg.Remote.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	// Initialize vault storage.
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Open the sync state store. The advisory lock makes sure only one
	// laguz process syncs this vault at a time.
	snaps, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer func() {
		if err := snaps.Close(); err != nil {
			logger.Error("State store close error", slog.String("error", err.Error()))
		}
	}()

	// Record store client.
	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})

	// Sync engine.
	exec := engine.NewExecutor(client, store, snaps, logger)
	disp := engine.NewDispatcher(exec, client, store, snaps, logger)
	queue := engine.NewQueue(disp, snaps, cfg.Queue, logger)
	defer queue.Close()

	// Sync journal (optional).
	var journal history.Journal
	if cfg.History.Path != "" {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		defer db.Close()
		journal = db
		queue.Subscribe(history.Listener(journal, logger))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	queue.Subscribe(broker.Listener())

	// Build service and router.
	svc := syncservice.NewService(queue, disp, store, snaps, journal, cfg.Container, logger)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start vault watcher feeding the sync queue.
	g.Go(func() error {
		if err := watcher.Watch(gCtx, queue, store, cfg.Vault.Path, cfg.Container, logger); err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	// Periodically flush sync state to disk.
	g.Go(func() error {
		ticker := time.NewTicker(stateFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if err := snaps.Flush(); err != nil {
					logger.Error("State flush error", slog.String("error", err.Error()))
				}
			}
		}
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdin/stdout instead of the HTTP
// stack. Logs go to stderr so they never corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	snaps, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer func() {
		if err := snaps.Close(); err != nil {
			logger.Error("State store close error", slog.String("error", err.Error()))
		}
	}()

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})

	exec := engine.NewExecutor(client, store, snaps, logger)
	disp := engine.NewDispatcher(exec, client, store, snaps, logger)
	queue := engine.NewQueue(disp, snaps, cfg.Queue, logger)
	defer queue.Close()

	var journal history.Journal
	if cfg.History.Path != "" {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		defer db.Close()
		journal = db
		queue.Subscribe(history.Listener(journal, logger))
	}

	svc := syncservice.NewService(queue, disp, store, snaps, journal, cfg.Container, logger)

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc).ServeStdio()
}
