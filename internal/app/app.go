package app

import (
	"context"
	"fmt"
	"log/slog"

	"DataHarvester/internal/config"
	"DataHarvester/internal/fetch"
	"DataHarvester/internal/harvest"
	"DataHarvester/internal/infrastructure/mapper"
	"DataHarvester/internal/infrastructure/transport"
	"DataHarvester/internal/logging"
	"DataHarvester/internal/metastore"
	"DataHarvester/internal/ratelimit"
	"DataHarvester/internal/sink"
	"DataHarvester/internal/usecase"
)

// Application wires configuration into the harvest components and exposes
// one Run entry point per harvest invocation.
type Application struct {
	cfg          config.Config
	orchestrator *usecase.Orchestrator
	store        *metastore.Store
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	registry := harvest.NewRegistry()
	registry.RegisterMapper("json", mapper.NewJSONArray)
	registry.RegisterMapper("htmltable", mapper.NewHTMLTable)
	for _, ep := range cfg.Endpoints {
		if err := registry.AddEndpoint(ep.Descriptor()); err != nil {
			return nil, fmt.Errorf("register endpoint: %w", err)
		}
	}

	limiter := ratelimit.New(cfg.RateLimit.Calls, cfg.RateLimit.Period.Std(), cfg.RateLimit.SafetyMargin)

	clientOpts := []transport.Option{}
	if cfg.API.AuthToken != "" {
		clientOpts = append(clientOpts, transport.WithAuthToken(cfg.API.AuthToken))
	}
	if cfg.API.UserAgent != "" {
		clientOpts = append(clientOpts, transport.WithUserAgent(cfg.API.UserAgent))
	}
	client := transport.NewClient(cfg.API.BaseURL, cfg.API.Timeout.Std(), clientOpts...)

	policy := fetch.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
		MaxDelay:    cfg.Retry.MaxDelay.Std(),
	}
	fetcher := fetch.NewPageFetcher(client, limiter, policy, baseLogger.With("component", "fetcher"))

	store := metastore.Open(cfg.Metadata.Path, cfg.Metadata.HistoryCapacity, baseLogger.With("component", "metastore"))

	orchestrator := usecase.NewOrchestrator(usecase.Deps{
		Registry: registry,
		Source:   fetcher,
		Sinks: &sink.Factory{
			Root:         cfg.Sink.Root,
			BatchSize:    cfg.Sink.BatchSize,
			FlushRetries: cfg.Sink.FlushRetries,
		},
		Store:       store,
		Logger:      baseLogger.With("component", "orchestrator"),
		Concurrency: cfg.Harvest.Concurrency,
		MaxPages:    cfg.Harvest.MaxPages,
	})

	return &Application{cfg: cfg, orchestrator: orchestrator, store: store}, nil
}

// Run performs one harvest over the given selection.
func (a *Application) Run(ctx context.Context, sel usecase.Selection) (usecase.Summary, error) {
	return a.orchestrator.Run(ctx, sel)
}

// Store exposes the extraction history for freshness queries.
func (a *Application) Store() *metastore.Store {
	return a.store
}
