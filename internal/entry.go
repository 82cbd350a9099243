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

	"github.com/aldevik/skrift/internal/api"
	"github.com/aldevik/skrift/internal/codec"
	"github.com/aldevik/skrift/internal/connectivity"
	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/importer"
	"github.com/aldevik/skrift/internal/kv"
	"github.com/aldevik/skrift/internal/localstore"
	"github.com/aldevik/skrift/internal/mcpserver"
	"github.com/aldevik/skrift/internal/noteservice"
	"github.com/aldevik/skrift/internal/remote"
	"github.com/aldevik/skrift/internal/sse"
	"github.com/aldevik/skrift/internal/syncengine"
)

// core holds the wired subsystems shared by the HTTP server and the MCP
// entrypoint.
type core struct {
	db      *localstore.DB
	ledger  *history.Ledger
	monitor *connectivity.Probe
	engine  *syncengine.Engine
}

func (c *core) close() {
	c.engine.Close()
	c.monitor.Close()
	_ = c.db.Close()
}

// buildCore wires storage, remote, connectivity and the sync engine from
// config. notify and noteNotify may be nil.
func buildCore(cfg *Config, logger *slog.Logger,
	notify func(string, syncengine.Snapshot), noteNotify func(string, string)) (*core, *noteservice.Service, error) {
	db, err := localstore.Open(cfg.Local.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("init local store: %w", err)
	}

	ledger, err := history.Open(kv.NewFile(cfg.Sync.HistoryPath), logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init sync history: %w", err)
	}

	// An empty remote base URL means local-only operation: the in-memory
	// remote keeps the sync surfaces functional without a network.
	var store remote.Store
	probe := connectivity.ProbeFunc(func(context.Context) bool { return true })
	if cfg.Remote.BaseURL != "" {
		hs := remote.NewHTTPStore(remote.HTTPOptions{
			BaseURL:    cfg.Remote.BaseURL,
			Token:      cfg.Remote.Token,
			Timeout:    cfg.Remote.Timeout(),
			MaxRetries: cfg.Remote.MaxRetries,
		})
		store = hs
		probe = hs.Healthy
	} else {
		logger.Warn("no remote configured, running local-only with in-memory remote")
		store = remote.NewMemory()
	}

	monitor := connectivity.NewProbe(probe, cfg.Sync.ProbeInterval(), logger)

	engine := syncengine.New(syncengine.Config{
		Local:   db,
		Remote:  store,
		Codec:   codec.New(codec.StaticPrincipal(cfg.Sync.OwnerID)),
		Monitor: monitor,
		Ledger:  ledger,
		Logger:  logger,
		Notify:  notify,
	})

	svc := noteservice.New(db, engine, logger, noteNotify)
	return &core{db: db, ledger: ledger, monitor: monitor, engine: engine}, svc, nil
}

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
	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.Local.SQLitePath),
		slog.String("remote", cfg.Remote.BaseURL),
		slog.String("owner", cfg.Sync.OwnerID),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	c, svc, err := buildCore(cfg, logger,
		func(event string, snap syncengine.Snapshot) { broker.PublishSyncEvent(event, snap) },
		broker.PublishNoteEvent)
	if err != nil {
		return err
	}
	defer c.close()

	apiRouter := api.NewRouter(svc, c.engine, c.ledger, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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

	// Periodic full sync.
	if interval := cfg.Sync.Interval(); interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					c.engine.TriggerFull()
				}
			}
		})
	}

	// Inbox importer.
	if cfg.Importer.InboxPath != "" {
		imp := importer.New(c.db, c.engine, cfg.Importer.InboxPath, logger)
		g.Go(func() error {
			return imp.Run(gCtx)
		})
	}

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

	// Kick off an initial full pass in the background; failure is
	// recorded in the ledger and retried by the scheduler.
	c.engine.TriggerFull()

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server with the same core wiring but no
// HTTP surface. Logs go to stderr so stdout stays a clean MCP transport.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	c, svc, err := buildCore(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer c.close()

	// ServeStdio returns when stdin closes; core teardown follows.
	return mcpserver.New(svc, c.engine, c.ledger).ServeStdio()
}
