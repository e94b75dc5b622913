package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starford/cookshelf/internal/index"
	"github.com/starford/cookshelf/internal/metrics"
	"github.com/starford/cookshelf/internal/models"
	"github.com/starford/cookshelf/internal/recipeservice"
	"github.com/starford/cookshelf/internal/storage"
)

// core is the wiring shared by every command: stores, index and service.
type core struct {
	cfg      *Config
	logger   *slog.Logger
	store    storage.Store
	fsStore  *storage.FS // nil unless the fs driver is selected
	registry *prometheus.Registry
	cache    *index.Cache
	svc      *recipeservice.Service
	// writes records the service's own writes while the watcher runs;
	// nil otherwise.
	writes   *index.WriteLog
	closers  []func() error
}

func newApplication(opts []Option) (*application, error) {
	app := &application{
		version:   "dev",
		logOutput: os.Stdout,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
}

// newCore opens the configured stores and builds the index and service.
// notify may be nil.
func newCore(cfg *Config, logger *slog.Logger, notify recipeservice.Notifier) (*core, error) {
	c := &core{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	switch cfg.Storage.Driver {
	case storage.DriverSQLite:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.store = db
		c.closers = append(c.closers, db.Close)
	default:
		if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create recipe dir: %w", err)
		}
		fsStore, err := storage.NewFS(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.store = fsStore
		c.fsStore = fsStore
	}

	if err := os.MkdirAll(cfg.ConfigStore.Path, 0o755); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	configStore, err := storage.NewFS(cfg.ConfigStore.Path)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("init config store: %w", err)
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(c.registry)

	c.cache = index.New(c.store, logger,
		index.WithWorkers(cfg.Index.Workers),
		index.WithMetrics(m))

	svcOpts := []recipeservice.Option{
		recipeservice.WithConfigStore(configStore),
		recipeservice.WithLogger(logger),
	}
	if notify != nil {
		svcOpts = append(svcOpts, recipeservice.WithNotifier(notify))
	}
	svcStore := c.store
	if cfg.Index.Watch && c.fsStore != nil {
		c.writes = index.NewWriteLog(index.DefaultWriteLogTTL)
		svcStore = index.RecordWrites(c.store, c.writes)
	}
	c.svc = recipeservice.New(svcStore, c.cache, svcOpts...)
	return c, nil
}

// Close releases the stores.
func (c *core) Close() error {
	var result *multierror.Error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Rebuild scans the configured store once and returns the index listing.
func Rebuild(ctx context.Context, opts ...Option) ([]models.IndexEntry, index.RebuildReport, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, index.RebuildReport{}, err
	}
	c, err := newCore(app.config, app.newLogger(), nil)
	if err != nil {
		return nil, index.RebuildReport{}, err
	}
	defer c.Close()

	return c.svc.RebuildIndex(ctx)
}

// watching reports whether the file watcher should run.
func (c *core) watching() bool {
	return c.writes != nil
}
