// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/duet/internal/api"
	"github.com/starford/duet/internal/configwatch"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/identity"
	"github.com/starford/duet/internal/livequery"
	"github.com/starford/duet/internal/mcpserver"
	"github.com/starford/duet/internal/notes"
	"github.com/starford/duet/internal/pairing"
	"github.com/starford/duet/internal/profiles"
	"github.com/starford/duet/internal/reconcile"
	"github.com/starford/duet/internal/reports"
	"github.com/starford/duet/internal/schedule"
	"github.com/starford/duet/internal/sse"
	"github.com/starford/duet/internal/summarizer"
	pkgconfig "github.com/starford/duet/pkg/config"
)

// components are the domain services shared by the HTTP and MCP front ends.
type components struct {
	store    *docstore.Store
	policy   *schedule.Policy
	profiles *profiles.Service
	pairing  *pairing.Service
	notes    *notes.Service
	reports  *reports.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(level slog.Level, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func buildComponents(cfg *Config, logger *slog.Logger) (*components, error) {
	loc, err := cfg.Reports.Location()
	if err != nil {
		return nil, fmt.Errorf("reports timezone: %w", err)
	}
	window, err := cfg.Reports.Override.Window()
	if err != nil {
		return nil, fmt.Errorf("reports override: %w", err)
	}
	policy, err := schedule.NewPolicy(loc, window)
	if err != nil {
		return nil, fmt.Errorf("init schedule policy: %w", err)
	}

	store, err := docstore.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init docstore: %w", err)
	}

	return &components{
		store:    store,
		policy:   policy,
		profiles: profiles.NewService(store),
		pairing:  pairing.NewService(store, logger),
		notes:    notes.NewService(store),
		reports:  reports.NewService(store, policy, summarizer.New(cfg.Summarizer.URL, cfg.Summarizer.Timeout), logger),
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(cfg.App.LogLevel, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("summarizer_url", cfg.Summarizer.URL),
		slog.Duration("reports_tick", cfg.Reports.Tick),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.store.Close()

	provider, err := identity.NewLocal(c.store, identity.LocalConfig{
		Secret:          []byte(cfg.Auth.JWTSecret),
		TokenTTL:        cfg.Auth.TokenTTL,
		BcryptCost:      cfg.Auth.BcryptCost,
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		Lockout:         cfg.Auth.Lockout,
	}, logger)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}

	hub := livequery.NewHub(c.store, logger)
	defer hub.Close()

	broker := sse.NewBroker(0)
	defer broker.Close()

	reconciler := reconcile.New(c.store, logger)
	sessions := reconcile.NewManager(reconcile.Deps{
		Hub:        hub,
		Reconciler: reconciler,
		Attacher:   c.pairing,
		Scheduler:  c.policy,
		Events:     api.NewNotifier(broker),
		Tick:       cfg.Reports.Tick,
		Idle:       cfg.Auth.TokenTTL,
		Now:        c.store.Now,
		Logger:     logger,
	})
	defer sessions.Close()

	apiRouter := api.NewRouter(api.Services{
		Identity:   provider,
		Profiles:   c.profiles,
		Pairing:    c.pairing,
		Reconciler: reconciler,
		Notes:      c.notes,
		Reports:    c.reports,
		Sessions:   sessions,
		Events:     broker,
	})

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.store.Get(r.Context(), "health", "probe"); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
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

	// Reload the reporting window when the config file changes.
	if app.configPath != "" {
		g.Go(func() error {
			return configwatch.Watch(gCtx, app.configPath, configwatch.DefaultDebounce, logger, func() error {
				return reloadWindow(app.configPath, c.policy, logger)
			})
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Ends open event streams; Shutdown does not cancel their requests.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Unblocks the config watcher.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// reloadWindow re-reads path and installs its reporting override. Other
// settings need a restart.
func reloadWindow(path string, policy *schedule.Policy, logger *slog.Logger) error {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg, pkgconfig.WithEnvPrefix(EnvPrefix)); err != nil {
		return err
	}
	window, err := cfg.Reports.Override.Window()
	if err != nil {
		return err
	}
	if err := policy.SetOverride(window); err != nil {
		return err
	}
	if window != nil {
		logger.Info("reporting override installed",
			slog.Time("start", window.Start),
			slog.Time("end", window.End))
	} else {
		logger.Info("reporting override cleared")
	}
	return nil
}

// RunMCP serves the MCP tools on stdio acting as the configured principal.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if err := cfg.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}

	// Stdout carries the protocol.
	logger := newLogger(cfg.App.LogLevel, os.Stderr)

	c, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.store.Close()

	if _, err := c.profiles.Get(context.Background(), cfg.MCP.PrincipalID); err != nil {
		return fmt.Errorf("mcp principal %s: %w", cfg.MCP.PrincipalID, err)
	}

	logger.Info("MCP server starting", slog.String("principal", cfg.MCP.PrincipalID))
	srv := mcpserver.New(mcpserver.Deps{
		Profiles: c.profiles,
		Pairing:  c.pairing,
		Notes:    c.notes,
		Reports:  c.reports,
	}, cfg.MCP.PrincipalID)
	return srv.ServeStdio()
}
