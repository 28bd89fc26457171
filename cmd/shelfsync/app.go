package main

import (
	"context"
	"fmt"

	"github.com/amaumene/shelfsync/internal/config"
	"github.com/amaumene/shelfsync/internal/controllers"
	"github.com/amaumene/shelfsync/internal/metrics"
	"github.com/amaumene/shelfsync/internal/models"
	"github.com/amaumene/shelfsync/internal/services/rediscache"
	"github.com/amaumene/shelfsync/internal/services/remote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	library  *controllers.LibraryController
	closers  []func()
}

// newApp opens the configured remote store and local cache and builds the
// library controller on top of them
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.ResponseCacheTTL > 0 {
		store = remote.NewFallbackStore(store, cfg.ResponseCacheTTL, logger)
	}
	logger.WithField("driver", cfg.RemoteDriver).Info("Remote store initialized")

	cache, err := a.openCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.WithField("backend", cfg.CacheBackend).Info("Local cache initialized")

	a.library = controllers.NewLibraryController(store, cache, metrics.New(a.registry), cfg.LockTimeout, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (remote.Store, error) {
	switch a.cfg.RemoteDriver {
	case config.DriverPostgres:
		pool, err := remote.NewPostgresPool(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		store := remote.NewPostgresStore(pool, a.cfg.UserID)
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare postgres schema: %w", err)
		}
		return store, nil

	case config.DriverMemory:
		return remote.NewMemoryStore(a.cfg.UserID), nil

	default:
		store, err := remote.OpenSQLite(a.cfg.SQLiteFile, a.cfg.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() { store.Close() })
		return store, nil
	}
}

func (a *app) openCache(ctx context.Context) (controllers.LocalCache, error) {
	if a.cfg.CacheBackend == config.CacheRedis {
		client, err := rediscache.NewClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		cache := rediscache.New(client, a.cfg.UserID)
		a.closers = append(a.closers, func() { cache.Close() })
		return cache, nil
	}

	db, err := models.NewDatabase(a.cfg.CacheFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}
	a.closers = append(a.closers, func() { db.Close() })
	return db, nil
}

// Close releases everything opened by newApp, last opened first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
