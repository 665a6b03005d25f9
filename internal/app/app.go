// Package app wires configuration into the store, embedder and services
// shared by the server and the CLI.
package app

import (
	"context"
	"fmt"

	"manifest/internal/config"
	"manifest/internal/observability"
	"manifest/internal/repository"
	"manifest/internal/service"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// Store is everything the services need from persistence
type Store interface {
	service.IntentionStore
	service.TimelineStore
}

// App holds the long-lived components
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Collector
	Store      Store
	Supabase   *supabase.Client
	Embedder   service.Embedder
	Matcher    *service.Matcher
	Intentions *service.IntentionService

	closers []func() error
}

// New builds the application from cfg. metrics may be nil.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics}

	if cfg.Supabase.Enabled() {
		client, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.Key, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Supabase client: %w", err)
		}
		a.Supabase = client
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.Store = store

	embedder, err := service.NewEmbedder(ctx, cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.Embedder = service.NewBreakerEmbedder(service.WithMetrics(embedder, metrics), cfg.Breaker, logger)

	a.Matcher = service.NewMatcher(a.Store, a.Embedder, cfg.Matching, logger, metrics)
	a.Intentions = service.NewIntentionService(a.Store, a.Matcher, a.Embedder, cfg.Backfill, logger)

	logger.Info("application initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("embedder", a.Embedder.Name()),
		zap.Float64("match_threshold", cfg.Matching.Threshold),
		zap.Int("match_count", cfg.Matching.MatchCount),
	)
	return a, nil
}

func (a *App) openStore() (Store, error) {
	switch a.Config.Store.Backend {
	case config.StoreBackendSupabase:
		if a.Supabase == nil {
			return nil, fmt.Errorf("store backend %q requires SUPABASE_URL and a key", a.Config.Store.Backend)
		}
		return repository.NewSupabaseRepository(a.Supabase), nil

	case config.StoreBackendPostgres:
		repo, err := OpenPostgres(a.Config)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", a.Config.Store.Backend)
	}
}

// OpenPostgres connects to PostgreSQL using the pool settings from cfg
func OpenPostgres(cfg *config.Config) (*repository.PostgresRepository, error) {
	return repository.NewPostgresRepository(
		cfg.GetPostgreSQLDSN(),
		cfg.PostgreSQL.MaxConnections,
		cfg.PostgreSQL.MaxIdleConnections,
	)
}

// Close releases the store connection
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
