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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/cookshelf/internal/api"
	"github.com/starford/cookshelf/internal/index"
	"github.com/starford/cookshelf/internal/mcpserver"
	"github.com/starford/cookshelf/internal/models"
	"github.com/starford/cookshelf/internal/recipepath"
	"github.com/starford/cookshelf/internal/sse"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.newLogger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("config_store_path", cfg.ConfigStore.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(sse.WithIndexThrottle(2 * time.Second))
	defer broker.Close()

	c, err := newCore(cfg, logger, broker.PublishRecipeEvent)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.Index.Eager {
		if _, err := c.cache.Rebuild(ctx); err != nil {
			logger.Warn("initial index build failed", slog.String("error", err.Error()))
		}
	}

	r := newRouter(c, broker)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher for edits made outside the API.
	if c.watching() {
		g.Go(func() error {
			if err := watchRecipes(gCtx, c, broker, logger); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
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

		timeout := cfg.App.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// SSE streams only end when the broker closes.
		broker.Close()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// watchRecipes mirrors out-of-band edits into the index and publishes them.
// Writes made through the API are announced by the service and skipped here.
func watchRecipes(ctx context.Context, c *core, broker *sse.Broker, logger *slog.Logger) error {
	return index.Watch(ctx, c.cache, c.fsStore, logger, func(kind, key string) {
		broker.PublishRecipeEvent(models.RecipeEvent{Kind: kind, Key: key, Path: recipepath.Decode(key)})
	}, index.IgnoreOwnWrites(c.writes))
}

// newRouter mounts health, metrics and the API on a chi router.
func newRouter(c *core, broker *sse.Broker) chi.Router {
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
		_, _ = fmt.Fprintf(w, `{"status":"ok","index":%q}`, c.cache.State())
	})

	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	// Mount API routes under /api; the SSE stream is /api/events.
	var sseHandler http.Handler
	if broker != nil {
		sseHandler = broker
	}
	r.Mount("/api", api.NewRouter(c.svc, c.cfg.Auth.AuthEnabled(), c.cfg.Auth.Token, sseHandler))
	return r
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()
	slog.SetDefault(logger)

	c, err := newCore(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if app.config.Index.Eager {
		if _, err := c.cache.Rebuild(ctx); err != nil {
			logger.Warn("initial index build failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(c.svc, app.version).ServeStdio()
}
