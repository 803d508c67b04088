package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/maestrohq/maestro/db"
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

// Setup creates and initializes the application graph.
// On error, everything already initialized is released.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	// Storage.
	pool, err := store.Connect(ctx, cfg.PostgresConnectionString(), logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, err
	}
	a.Store = store.New(pool, logger.With("component", "store"))

	// Cache.
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
	})
	a.Cache = cache.New(a.Redis, logger.With("component", "cache"))

	// Models.
	provider, err := model.NewProvider(cfg.ChatModel, cfg.AnalysisModel, cfg.EmbedderModel)
	if err != nil {
		return nil, err
	}
	a.Provider = provider

	a.Genkit = genkit.Init(ctx, genkit.WithPlugins(
		&googlegenai.GoogleAI{},
		&openai.OpenAI{},
	))

	embedder := genkit.LookupEmbedder(a.Genkit, provider.Embedder())
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", provider.Embedder())
	}

	// Broker and connection registry.
	a.Broker, err = broker.New(cfg.BrokerBaseURL, cfg.BrokerAPIKey, logger.With("component", "broker"))
	if err != nil {
		return nil, err
	}
	a.Registry = connection.New(a.Store, a.Broker, a.Cache, logger.With("component", "connections"))

	// Vector catalog.
	a.Catalog, err = catalog.New(catalog.NewPGQuerier(pool), embedder, a.Cache, logger.With("component", "catalog"))
	if err != nil {
		return nil, err
	}
	if err := a.Catalog.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	a.Ingestor = catalog.NewIngestor(a.Broker, a.Catalog, logger.With("component", "catalog"))

	// Pipeline stages.
	a.Analyzer, err = analysis.New(analysis.Config{
		Genkit:    a.Genkit,
		ModelName: provider.Analysis(),
		Cache:     a.Cache,
		Logger:    logger.With("component", "analyzer"),
	})
	if err != nil {
		return nil, err
	}

	a.Router, err = router.NewRouter(a.Genkit, provider.Analysis(), router.DefaultTopTools(),
		a.Cache, logger.With("component", "router"))
	if err != nil {
		return nil, err
	}
	a.Preparer = router.NewPreparer(a.Router, a.Registry, a.Catalog, a.Broker,
		logger.With("component", "preparer"))

	dispatcher, err := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		Genkit:    a.Genkit,
		ModelName: provider.Chat(),
		Broker:    a.Broker,
		MaxSteps:  cfg.MaxAgentSteps,
		Logger:    logger.With("component", "dispatcher"),
	})
	if err != nil {
		return nil, err
	}

	initializer := orchestrator.NewInitializer(a.Store, a.Cache, cfg.DegradedMode,
		logger.With("component", "initializer"))
	persister := orchestrator.NewPersister(a.Store, a.Cache, cfg.MaxConversationHistory,
		logger.With("component", "persister"))

	a.Orchestrator, err = orchestrator.New(orchestrator.PipelineConfig{
		Initializer:  initializer,
		Analyzer:     a.Analyzer,
		Preparer:     a.Preparer,
		Dispatcher:   dispatcher,
		Persister:    persister,
		HistoryLimit: cfg.MaxConversationHistory,
		Logger:       logger.With("component", "orchestrator"),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("application initialized",
		"chat_model", provider.Chat(),
		"analysis_model", provider.Analysis(),
		"max_agent_steps", cfg.MaxAgentSteps)
	return a, nil
}

// provideOtelShutdown registers an OTLP/HTTP span exporter on Genkit's
// tracer provider. Returns the shutdown function; a missing endpoint
// disables tracing.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
