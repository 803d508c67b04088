// Package app wires the application: configuration, storage, cache, models,
// broker, and the chat pipeline.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/broker"
	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/catalog"
	"github.com/maestrohq/maestro/internal/config"
	"github.com/maestrohq/maestro/internal/connection"
	"github.com/maestrohq/maestro/internal/model"
	"github.com/maestrohq/maestro/internal/orchestrator"
	"github.com/maestrohq/maestro/internal/router"
	"github.com/maestrohq/maestro/internal/store"
)

// App holds the initialized application graph. Create with Setup; release
// with Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DBPool *pgxpool.Pool
	Redis  *redis.Client
	Cache  *cache.Cache

	Genkit   *genkit.Genkit
	Provider *model.Provider

	Store        *store.Store
	Broker       *broker.Client
	Registry     *connection.Registry
	Catalog      *catalog.Catalog
	Ingestor     *catalog.Ingestor
	Analyzer     *analysis.Analyzer
	Router       *router.Router
	Preparer     *router.Preparer
	Orchestrator *orchestrator.Orchestrator

	otelCleanup func()
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	var errs []error

	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return errors.Join(errs...)
}

// StorePing implements the readiness probe's store check.
func (a *App) StorePing(ctx context.Context) error {
	return a.Store.Ping(ctx)
}

// CachePing implements the readiness probe's cache check.
func (a *App) CachePing(ctx context.Context) error {
	return a.Cache.Ping(ctx)
}
