// Package search orchestrates one travel search: cache lookups, query parsing,
// geocoding, the content-source fan-out, ranking, composition and cache write-back.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/logger"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/exactcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/semcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/scoring"
)

// Config tunes the orchestrator.
type Config struct {
	SimilarityThreshold float64
	RadiusMiles         float64
	SemanticTTL         time.Duration
	ComposeTimeout      time.Duration
	WriteWorkers        int
	WriteTimeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.RadiusMiles <= 0 {
		c.RadiusMiles = 50
	}
	if c.SemanticTTL <= 0 {
		c.SemanticTTL = 30 * time.Minute
	}
	if c.WriteWorkers <= 0 {
		c.WriteWorkers = 16
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Deps are the collaborators of a Service. Semantic and Composer may be nil.
type Deps struct {
	Exact    ExactCache
	Semantic SemanticCache
	Parser   Parser
	Geocoder Geocoder
	Fetchers []Fetcher
	Ranker   *scoring.Engine
	Composer Composer
}

// Service is the search orchestrator. It is safe for concurrent use.
type Service struct {
	exact    ExactCache
	sem      SemanticCache
	parser   Parser
	geocoder Geocoder
	fetchers []Fetcher
	ranker   *scoring.Engine
	composer Composer
	cfg      Config
	writer   *writer
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Service. Close releases its write pool.
func New(deps Deps, cfg Config, log *zap.Logger) (*Service, error) {
	if deps.Exact == nil || deps.Parser == nil || deps.Geocoder == nil || deps.Ranker == nil {
		return nil, errors.New("search: exact cache, parser, geocoder and ranker are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()

	w, err := newWriter(cfg.WriteWorkers, cfg.WriteTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("create cache write pool: %w", err)
	}

	return &Service{
		exact:    deps.Exact,
		sem:      deps.Semantic,
		parser:   deps.Parser,
		geocoder: deps.Geocoder,
		fetchers: deps.Fetchers,
		ranker:   deps.Ranker,
		composer: deps.Composer,
		cfg:      cfg,
		writer:   w,
		logger:   log,
		now:      time.Now,
	}, nil
}

// NewRequestID returns an id of the form search_<12 hex chars>.
func NewRequestID() string {
	return "search_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Execute runs one search. Only invalid or unparseable input and a failed
// parser call are returned as errors; every other failure degrades.
// With force set both cache tiers are bypassed for reading but still written.
func (s *Service) Execute(ctx context.Context, query string, force bool) (*domain.SearchResponse, error) {
	start := s.now()
	reqID := NewRequestID()
	log := logger.FromContextOr(ctx, s.logger).With(zap.String("request_id", reqID))

	q, err := domain.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	log.Info("search.start", zap.String("query", q), zap.Bool("force", force))

	if !force {
		if e := s.lookupExact(ctx, q, "", log); e != nil {
			return s.hit(e.Response, domain.TierExact, nil, e.CreatedAt, reqID, start, log), nil
		}
	}

	parsed, err := s.parser.Parse(ctx, q)
	if err != nil {
		if !errors.Is(err, domain.ErrUnparseableInput) && !errors.Is(err, domain.ErrUpstream) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		log.Warn("search.parse_failed", zap.Error(err))
		return nil, err
	}
	if !parsed.Complete() {
		return nil, fmt.Errorf("location and intent are both required: %w", domain.ErrUnparseableInput)
	}
	parsed.Intent = strings.TrimSpace(parsed.Intent)
	parsed.Location = strings.TrimSpace(parsed.Location)

	loc := s.geocoder.Geocode(ctx, parsed.Location)
	sc := domain.NewSearchContext(parsed.Intent, loc)
	center, hasCoords := sc.Coordinates()

	var embedding []float32
	if s.sem != nil && hasCoords {
		embedding, err = s.sem.Embed(ctx, parsed.Intent)
		if err != nil {
			metrics.CacheLookupsTotal.WithLabelValues(string(domain.TierSemantic), "error").Inc()
			log.Warn("Embedding unavailable, using exact cache only", zap.Error(err))
			embedding = nil
		}
	}

	if !force {
		if m := s.lookupSemantic(ctx, embedding, center, log); m != nil {
			return s.hit(m.Response, domain.TierSemantic, m, m.CreatedAt, reqID, start, log), nil
		}
		if e := s.lookupExact(ctx, parsed.Intent, sc.NormalizedLocation(), log); e != nil {
			return s.hit(e.Response, domain.TierExact, nil, e.CreatedAt, reqID, start, log), nil
		}
	}

	fetchStart := s.now()
	items, stats := s.fanOut(ctx, sc, log)
	dataMS := s.now().Sub(fetchStart).Milliseconds()

	ranked := s.ranker.Rank(sc, items)
	selected := ranked.Selected()
	places := make([]domain.Place, 0, len(selected))
	for _, r := range selected {
		places = append(places, domain.PlaceFrom(r))
	}

	text := s.compose(ctx, sc, places, log)

	summary := ranked.Summary
	resp := &domain.SearchResponse{
		UserIntent:   sc.Intent(),
		UserLocation: sc.NormalizedLocation(),
		Response:     text,
		Places:       places,
		Debug: domain.Debug{
			RequestID:          reqID,
			DataSourceMS:       dataMS,
			Parsed:             &parsed,
			NormalizedLocation: sc.NormalizedLocation(),
			Coordinates:        loc.Coordinates,
			Confidence:         sc.Confidence(),
			SourceStats:        stats,
			ScoringSummary:     &summary,
			CacheStatus:        domain.CacheMiss,
		},
	}

	if anySucceeded(stats) {
		s.writeBack(q, sc, embedding, resp.Clone())
	} else {
		log.Warn("All content sources failed, skipping cache write")
	}

	resp.Debug.ExecutionTimeMS = s.now().Sub(start).Milliseconds()
	metrics.SearchDuration.WithLabelValues(string(domain.CacheMiss)).Observe(s.now().Sub(start).Seconds())
	log.Info("search.complete",
		zap.String("intent", sc.Intent()),
		zap.String("location", sc.NormalizedLocation()),
		zap.Int("places", len(places)),
		zap.Int64("execution_time_ms", resp.Debug.ExecutionTimeMS),
	)
	return resp, nil
}

// Flush waits for in-flight cache writes.
func (s *Service) Flush() { s.writer.flush() }

// Close flushes pending cache writes and releases the write pool.
func (s *Service) Close() { s.writer.close() }

func (s *Service) lookupExact(ctx context.Context, query, location string, log *zap.Logger) *exactcache.Entry {
	tier := string(domain.TierExact)
	e, err := s.exact.Get(ctx, query, location)
	switch {
	case err == nil && e.Response != nil:
		metrics.CacheLookupsTotal.WithLabelValues(tier, "hit").Inc()
		return e
	case err == nil, errors.Is(err, domain.ErrCacheMiss):
		metrics.CacheLookupsTotal.WithLabelValues(tier, "miss").Inc()
	default:
		metrics.CacheLookupsTotal.WithLabelValues(tier, "error").Inc()
		log.Warn("Exact cache read failed", zap.Error(err))
	}
	return nil
}

func (s *Service) lookupSemantic(
	ctx context.Context, embedding []float32, center geo.Point, log *zap.Logger,
) *semcache.Match {
	if s.sem == nil || embedding == nil {
		return nil
	}
	tier := string(domain.TierSemantic)
	matches, err := s.sem.FindSimilar(ctx, semcache.Query{
		Embedding:   embedding,
		Center:      center,
		RadiusMiles: s.cfg.RadiusMiles,
		Threshold:   s.cfg.SimilarityThreshold,
		Limit:       1,
	})
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues(tier, "error").Inc()
		log.Warn("Semantic cache read failed", zap.Error(err))
		return nil
	}
	if len(matches) == 0 || matches[0].Response == nil {
		metrics.CacheLookupsTotal.WithLabelValues(tier, "miss").Inc()
		return nil
	}
	metrics.CacheLookupsTotal.WithLabelValues(tier, "hit").Inc()

	m := matches[0]
	s.writer.submit("semantic_access", func(ctx context.Context) error {
		return s.sem.BumpAccess(ctx, m.ID)
	})
	return &m
}

// hit annotates a cached payload for this request.
func (s *Service) hit(
	cached *domain.SearchResponse, tier domain.CacheTier, m *semcache.Match,
	cachedAt time.Time, reqID string, start time.Time, log *zap.Logger,
) *domain.SearchResponse {
	resp := cached.Clone()
	resp.Debug.RequestID = reqID
	resp.Debug.CacheStatus = domain.CacheHit
	resp.Debug.CacheTier = tier
	resp.Debug.SemanticMatch = nil
	if !cachedAt.IsZero() {
		resp.Debug.CachedAt = &cachedAt
	}
	if m != nil {
		resp.Debug.SemanticMatch = &domain.SemanticMatch{
			EntryID:       m.ID,
			MatchedIntent: m.Intent,
			Similarity:    m.Similarity,
			DistanceMiles: m.DistanceMiles,
			Relevance:     m.Relevance,
		}
	}
	resp.Debug.ExecutionTimeMS = s.now().Sub(start).Milliseconds()

	metrics.SearchDuration.WithLabelValues(string(domain.CacheHit)).Observe(s.now().Sub(start).Seconds())
	fields := []zap.Field{zap.String("tier", string(tier)), zap.Int("places", len(resp.Places))}
	if m != nil {
		fields = append(fields,
			zap.String("matched_intent", m.Intent),
			zap.Float64("similarity", m.Similarity),
			zap.Float64("distance_miles", m.DistanceMiles),
		)
	}
	log.Info("search.cache_hit", fields...)
	return resp
}

func (s *Service) compose(
	ctx context.Context, sc domain.SearchContext, places []domain.Place, log *zap.Logger,
) string {
	if s.composer != nil {
		cctx := ctx
		if s.cfg.ComposeTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, s.cfg.ComposeTimeout)
			defer cancel()
		}
		text, err := s.composer.Compose(cctx, sc.Intent(), sc.NormalizedLocation(), places)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		log.Warn("Composer unavailable, using fallback response", zap.Error(err))
	}
	return FallbackResponse(sc.Intent(), sc.NormalizedLocation(), len(places))
}

// writeBack schedules the exact writes under the raw query and under
// (intent, normalized location), plus the semantic write when an embedding
// and coordinates are known.
func (s *Service) writeBack(query string, sc domain.SearchContext, embedding []float32, resp *domain.SearchResponse) {
	s.writer.submit(string(domain.TierExact), func(ctx context.Context) error {
		return s.exact.Put(ctx, query, "", resp)
	})
	s.writer.submit(string(domain.TierExact), func(ctx context.Context) error {
		return s.exact.Put(ctx, sc.Intent(), sc.NormalizedLocation(), resp)
	})

	if s.sem == nil {
		return
	}
	if _, ok := sc.Coordinates(); !ok || embedding == nil {
		metrics.CacheWritesTotal.WithLabelValues(string(domain.TierSemantic), "skipped").Inc()
		return
	}
	loc := sc.Location()
	s.writer.submit(string(domain.TierSemantic), func(ctx context.Context) error {
		_, err := s.sem.Store(ctx, sc.Intent(), loc, embedding, resp, s.cfg.SemanticTTL)
		return err
	})
}

func anySucceeded(stats map[domain.Source]domain.SourceStat) bool {
	for _, st := range stats {
		if st.Status == domain.SourceSuccess {
			return true
		}
	}
	return false
}
