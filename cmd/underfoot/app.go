package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/config"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db/memory"
	dbRedis "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db/redis"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	logpkg "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/logger"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/embcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/exactcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/locationcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/semcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/transport/geoapify"
	openaiTransport "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/transport/openai"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/transport/sources"
	embeddinguc "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/embedding"
	healthuc "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/health"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/scoring"
	searchuc "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/search"
)

// app is the wired service graph shared by every subcommand.
type app struct {
	cfg    config.Config
	env    string
	logger *zap.Logger
	store  db.Store
	search *searchuc.Service
	health *healthuc.Service
}

// newApp loads configuration and builds the composition root.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := logpkg.NewLogger(opts.env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterLLMMetrics()
	metrics.RegisterSearchMetrics()
	metrics.RegisterHTTPMetrics()

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	if err := store.WaitForReady(ctx, config.Seconds(cfg.Database.ReadinessTimeout)); err != nil {
		store.Close()
		return nil, fmt.Errorf("cache store not ready: %w", err)
	}
	logger.Info("Connected to cache store",
		zap.String("driver", cfg.Database.Driver),
		zap.Strings("addrs", cfg.Database.Addrs),
	)

	a := &app{cfg: cfg, env: opts.env, logger: logger, store: store}
	if err := a.wire(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func openStore(cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), nil
	case "redis", "valkey":
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			Flavor:   dbRedis.Flavor(cfg.Driver),
		})
		if err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

//nolint:funlen // composition root
func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	upstream := sources.NewHTTPClient(
		config.Seconds(cfg.Upstream.ConnectTimeoutSec),
		config.Seconds(cfg.Upstream.TotalTimeoutSec),
	)

	exact := exactcache.New(a.store, config.Seconds(cfg.Cache.ExactTTLSec))
	locations := locationcache.New(a.store, config.Seconds(cfg.Geocoding.CacheTTLSec))

	// Pass nil interfaces (not typed nil pointers) for disabled tiers.
	var (
		semantic       searchuc.SemanticCache
		semanticStats  healthuc.SemanticStatter
		embeddingCheck healthuc.EmbeddingChecker
	)
	if cfg.Embedding.APIKey != "" {
		base := openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Provider:   cfg.Embedding.Provider,
			Logger:     logger,
		})
		var embedder domain.Embedder = embcache.New(base, a.store, embcache.Config{
			TTL:     config.Seconds(cfg.Cache.EmbeddingTTLSec),
			Lookups: metrics.EmbeddingCacheTotal,
			Timeout: config.Seconds(cfg.Upstream.TotalTimeoutSec),
		}, logger)
		embedder = embeddinguc.NewInstrumented(embedder, embeddinguc.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			Timeout:  config.Seconds(cfg.Upstream.TotalTimeoutSec),
		}, logger)

		repo := semcache.New(a.store, embedder, semcache.Config{
			Dimensions:     cfg.Embedding.Dimensions,
			HNSWM:          cfg.Embedding.HNSWM,
			HNSWEF:         cfg.Embedding.HNSWEF,
			TTL:            config.Seconds(cfg.Cache.SemanticTTLSec),
			CandidateLimit: cfg.Cache.CandidateLimit,
		}, logger)
		if err := repo.EnsureIndex(ctx); err != nil {
			logger.Warn("Semantic cache disabled: index unavailable", zap.Error(err))
		} else {
			semantic, semanticStats = repo, repo
		}
		embeddingCheck = base
	} else {
		logger.Warn("Embedding API key not set, semantic cache disabled")
	}

	chat := openaiTransport.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Logger:  logger,
	}
	if chat.APIKey == "" {
		logger.Warn("LLM API key not set, query parsing will fail upstream")
	}
	parser := openaiTransport.NewParser(&openaiTransport.ChatConfig{
		Config: chat, Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.ParseMaxTokens,
	})
	composer := openaiTransport.NewComposer(&openaiTransport.ChatConfig{
		Config: chat, Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.ComposeMaxTokens,
	})

	geocoder := geoapify.New(geoapify.Config{
		APIKey:     cfg.Geocoding.APIKey,
		BaseURL:    cfg.Geocoding.BaseURL,
		Limit:      cfg.Geocoding.Limit,
		HTTPClient: upstream,
		Logger:     logger,
	}, locations)

	ranker := scoring.New(scoringConfig(cfg.Scoring), logger)

	svc, err := searchuc.New(searchuc.Deps{
		Exact:    exact,
		Semantic: semantic,
		Parser:   parser,
		Geocoder: geocoder,
		Fetchers: buildFetchers(cfg, upstream, logger),
		Ranker:   ranker,
		Composer: composer,
	}, searchuc.Config{
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		RadiusMiles:         cfg.Cache.RadiusMiles,
		SemanticTTL:         config.Seconds(cfg.Cache.SemanticTTLSec),
		ComposeTimeout:      config.Seconds(cfg.LLM.ComposeTimeoutSec),
		WriteWorkers:        cfg.Cache.WriteWorkers,
		WriteTimeout:        config.Seconds(cfg.Cache.WriteTimeoutSec),
	}, logger)
	if err != nil {
		return fmt.Errorf("create search service: %w", err)
	}

	a.search = svc
	a.health = healthuc.New(a.store, embeddingCheck, healthuc.Caches{
		Exact:    exact,
		Location: locations,
		Semantic: semanticStats,
	})
	return nil
}

func buildFetchers(cfg config.Config, client *http.Client, logger *zap.Logger) []searchuc.Fetcher {
	b := cfg.Sources.Breaker
	breaker := sources.BreakerConfig{
		MaxRequests:         b.MaxRequests,
		Interval:            config.Seconds(b.IntervalSec),
		OpenTimeout:         config.Seconds(b.OpenTimeoutSec),
		MinRequests:         b.MinRequests,
		FailureRatio:        b.FailureRatio,
		ConsecutiveFailures: b.ConsecutiveFail,
	}
	sourceCfg := func(sc config.SourceConfig) sources.Config {
		return sources.Config{
			APIKey:     sc.APIKey,
			BaseURL:    sc.BaseURL,
			Limit:      sc.Limit,
			UserAgent:  sc.UserAgent,
			HTTPClient: client,
		}
	}
	guard := func(f sources.Fetcher, sc config.SourceConfig) searchuc.Fetcher {
		return sources.Guard(f, config.Seconds(sc.TimeoutSec), breaker, logger)
	}

	s := cfg.Sources
	return []searchuc.Fetcher{
		guard(sources.NewWebSearch(sourceCfg(s.WebSearch)), s.WebSearch),
		guard(sources.NewSocial(sourceCfg(s.Social)), s.Social),
		guard(sources.NewEvents(sourceCfg(s.Events)), s.Events),
	}
}

func scoringConfig(sc config.ScoringConfig) scoring.Config {
	priority := make([]domain.Source, 0, len(sc.SourcePriority))
	for _, s := range sc.SourcePriority {
		priority = append(priority, domain.Source(s))
	}
	return scoring.Config{
		Weights: scoring.Weights{
			Relevance:   sc.RelevanceWeight,
			Reliability: sc.ReliabilityWeight,
			Signals:     sc.SignalsWeight,
		},
		PrimarySize:    sc.PrimarySize,
		NearbySize:     sc.NearbySize,
		SourcePriority: priority,
	}
}

// close flushes pending cache writes and releases the store.
func (a *app) close() {
	if a.search != nil {
		a.search.Close()
	}
	a.store.Close()
	_ = a.logger.Sync()
}

// withTimeout bounds one-shot CLI commands by the upstream budget.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*config.Seconds(a.cfg.Upstream.TotalTimeoutSec)+5*time.Second)
}
