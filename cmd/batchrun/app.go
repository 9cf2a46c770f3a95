package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/OpenNSW/batchrun/internal/archive"
	"github.com/OpenNSW/batchrun/internal/config"
	"github.com/OpenNSW/batchrun/internal/database"
	"github.com/OpenNSW/batchrun/internal/logging"
	"github.com/OpenNSW/batchrun/internal/metrics"
	"github.com/OpenNSW/batchrun/internal/task/manager"
	"github.com/OpenNSW/batchrun/internal/task/persistence"
	"github.com/OpenNSW/batchrun/internal/task/plugin"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *persistence.RunStore
	archiver *archive.Archiver
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	manager  manager.RunManager
	closers  []func() error
}

type appOptions struct {
	history bool
	manager bool
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, infrastructure(fmt.Errorf("failed to load configuration: %w", err))
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, infrastructure(fmt.Errorf("failed to configure logging: %w", err))
	}
	a.closers = append(a.closers, logCloser.Close)

	if opts.history {
		db, err := database.New(&cfg.Database)
		if err != nil {
			a.Close()
			return nil, infrastructure(err)
		}
		a.db = db
		a.closers = append(a.closers, func() error { return database.Close(db) })

		store, err := persistence.NewRunStore(db)
		if err != nil {
			a.Close()
			return nil, infrastructure(err)
		}
		a.store = store
	}

	if !opts.manager {
		return a, nil
	}

	if cfg.Storage.Enabled {
		driver, err := archive.NewStorageFromConfig(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, infrastructure(fmt.Errorf("failed to initialize archive storage: %w", err))
		}
		a.archiver = archive.NewArchiver(driver, cfg.Storage.URLExpiry)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		a.Close()
		return nil, infrastructure(fmt.Errorf("failed to register metrics: %w", err))
	}

	factory := plugin.NewTaskFactory(plugin.Config{
		Endpoints:      cfg.Dispatch.Endpoints,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		MaxRefreshes:   cfg.Dispatch.MaxRefreshes,
		RefreshBackoff: cfg.Dispatch.RefreshBackoff,
		MaxBodyBytes:   cfg.Dispatch.MaxBodyBytes,
		TokenURL:       cfg.Dispatch.TokenURL,
	}, plugin.WithAttemptObserver(a.metrics))

	managerOpts := []manager.Option{manager.WithObservers(a.metrics)}
	if a.store != nil {
		managerOpts = append(managerOpts, manager.WithStore(a.store))
	}
	if a.archiver != nil {
		managerOpts = append(managerOpts, manager.WithArchiver(a.archiver))
	}
	a.manager, err = manager.NewRunManager(factory, cfg.Runner, managerOpts...)
	if err != nil {
		a.Close()
		return nil, invalidInput(err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}
