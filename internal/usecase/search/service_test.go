package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db/memory"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/exactcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/semcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/scoring"
)

// --- Fakes ---

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.EmbeddingResult{}, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return domain.EmbeddingResult{}, errors.New("no vector for " + text)
	}
	return domain.EmbeddingResult{Embedding: v}, nil
}

type fakeParser struct {
	mu      sync.Mutex
	queries map[string]domain.ParsedQuery
	err     error
	calls   int
}

func (f *fakeParser) Parse(_ context.Context, text string) (domain.ParsedQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.ParsedQuery{}, f.err
	}
	p, ok := f.queries[text]
	if !ok {
		return domain.ParsedQuery{}, domain.ErrUnparseableInput
	}
	return p, nil
}

type fakeGeocoder struct {
	places map[string]geo.Point
}

func (f *fakeGeocoder) Geocode(_ context.Context, raw string) domain.Location {
	p, ok := f.places[raw]
	if !ok {
		return domain.DegradedLocation(raw)
	}
	return domain.Location{Raw: raw, Normalized: raw + ", US", Coordinates: &p, Confidence: 0.9, City: raw}
}

type countingFetcher struct {
	source domain.Source
	items  func(sc domain.SearchContext) []domain.RawResult
	err    error
	calls  atomic.Int32
}

func (f *countingFetcher) Source() domain.Source { return f.source }

func (f *countingFetcher) Fetch(_ context.Context, sc domain.SearchContext) ([]domain.RawResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.items(sc), nil
}

type fakeComposer struct {
	err error
}

func (f *fakeComposer) Compose(_ context.Context, intent, location string, places []domain.Place) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Beneath " + location + " lie " + intent, nil
}

type failingExact struct {
	*exactcache.Repo
}

func (failingExact) Put(context.Context, string, string, *domain.SearchResponse) error {
	return errors.New("store unavailable")
}

// stalledExact holds every write until release is closed.
type stalledExact struct {
	*exactcache.Repo
	release chan struct{}
}

func (s stalledExact) Put(ctx context.Context, _, _ string, _ *domain.SearchResponse) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Fixture ---

var (
	manhattan = geo.Point{Lat: 40.7, Lng: -74.0}
	hoboken   = geo.Point{Lat: 40.744, Lng: -74.0324}
	albany    = geo.Point{Lat: 42.6526, Lng: -73.7562}
)

// cosVec returns a 3-d unit vector at the given cosine to (1, 0, 0).
func cosVec(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos)), 0}
}

func sourceItems(src domain.Source, n int) func(sc domain.SearchContext) []domain.RawResult {
	return func(sc domain.SearchContext) []domain.RawResult {
		out := make([]domain.RawResult, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, domain.RawResult{
				Name:        string(src) + " " + sc.Intent() + " " + string(rune('A'+i)),
				Description: "hidden local " + sc.Intent(),
				Source:      src,
				URL:         "https://" + string(src) + ".example/" + string(rune('a'+i)),
			})
		}
		return out
	}
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	exact    *exactcache.Repo
	sem      *semcache.Repo
	embedder *fakeEmbedder
	parser   *fakeParser
	fetchers []*countingFetcher
	logs     *observer.ObservedLogs
	cfg      Config
}

type option func(*Deps, *fixture)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), cfg: Config{WriteWorkers: 4, WriteTimeout: time.Second}}
	f.embedder = &fakeEmbedder{vectors: map[string][]float32{
		"underground bars": cosVec(1),
		"dive bars":        cosVec(0.9),
		"art museums":      cosVec(0.2),
	}}
	f.parser = &fakeParser{queries: map[string]domain.ParsedQuery{
		"underground bars in Manhattan": {Location: "Manhattan", Intent: "underground bars"},
		"dive bars in Hoboken":          {Location: "Hoboken", Intent: "dive bars"},
		"art museums in Hoboken":        {Location: "Hoboken", Intent: "art museums"},
		"dive bars in Albany":           {Location: "Albany", Intent: "dive bars"},
		"dive bars in Atlantis":         {Location: "Atlantis", Intent: "dive bars"},
	}}
	f.fetchers = []*countingFetcher{
		{source: domain.SourceWebSearch, items: sourceItems(domain.SourceWebSearch, 4)},
		{source: domain.SourceSocial, items: sourceItems(domain.SourceSocial, 4)},
		{source: domain.SourceEvents, items: sourceItems(domain.SourceEvents, 4)},
	}

	f.exact = exactcache.New(f.store, 30*time.Minute)
	f.sem = semcache.New(f.store, f.embedder,
		semcache.Config{Dimensions: 3, HNSWM: 16, HNSWEF: 200, TTL: 30 * time.Minute}, zap.NewNop())
	require.NoError(t, f.sem.EnsureIndex(context.Background()))

	fetchers := make([]Fetcher, 0, len(f.fetchers))
	for _, c := range f.fetchers {
		fetchers = append(fetchers, c)
	}
	deps := Deps{
		Exact:    f.exact,
		Semantic: f.sem,
		Parser:   f.parser,
		Geocoder: &fakeGeocoder{places: map[string]geo.Point{
			"Manhattan": manhattan, "Hoboken": hoboken, "Albany": albany,
		}},
		Fetchers: fetchers,
		Ranker:   scoring.New(scoring.DefaultConfig(), zap.NewNop()),
		Composer: &fakeComposer{},
	}
	for _, o := range opts {
		o(&deps, f)
	}

	core, logs := observer.New(zap.DebugLevel)
	f.logs = logs
	svc, err := New(deps, f.cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	f.svc = svc
	return f
}

func (f *fixture) fetchCalls() int32 {
	var n int32
	for _, c := range f.fetchers {
		n += c.calls.Load()
	}
	return n
}

func (f *fixture) semanticEntries(t *testing.T) int {
	t.Helper()
	return f.sem.Statistics(context.Background()).TotalEntries
}

// --- Tests ---

func TestExecute_ColdMissWritesBothTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Equal(t, domain.CacheMiss, resp.Debug.CacheStatus)
	assert.Empty(t, resp.Debug.CacheTier)
	assert.Equal(t, "underground bars", resp.UserIntent)
	assert.Equal(t, "Manhattan, US", resp.UserLocation)
	assert.True(t, strings.HasPrefix(resp.Debug.RequestID, "search_"))
	assert.Len(t, resp.Debug.RequestID, len("search_")+12)
	assert.Equal(t, "Beneath Manhattan, US lie underground bars", resp.Response)
	require.NotNil(t, resp.Debug.Coordinates)
	assert.Equal(t, manhattan, *resp.Debug.Coordinates)
	assert.Equal(t, int32(3), f.fetchCalls())

	require.NotNil(t, resp.Debug.ScoringSummary)
	assert.Equal(t, 12, resp.Debug.ScoringSummary.TotalInput)
	assert.Len(t, resp.Places, 12)
	assert.Equal(t, domain.CategoryPrimary, resp.Places[0].Category)
	assert.Equal(t, domain.CategoryNearby, resp.Places[5].Category)
	for _, src := range domain.Sources() {
		assert.Equal(t, domain.SourceSuccess, resp.Debug.SourceStats[src].Status)
		assert.Equal(t, 4, resp.Debug.SourceStats[src].Count)
	}

	_, err = f.exact.Get(ctx, "underground bars in Manhattan", "")
	assert.NoError(t, err, "raw query must be cached")
	_, err = f.exact.Get(ctx, "underground bars", "Manhattan, US")
	assert.NoError(t, err, "intent and location must be cached")
	assert.Equal(t, 1, f.semanticEntries(t))
}

func TestExecute_RepeatIsExactHitWithoutFetching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()
	calls, parses := f.fetchCalls(), f.parser.calls

	second, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)

	assert.Equal(t, domain.CacheHit, second.Debug.CacheStatus)
	assert.Equal(t, domain.TierExact, second.Debug.CacheTier)
	assert.Equal(t, calls, f.fetchCalls(), "a hit must not fetch")
	assert.Equal(t, parses, f.parser.calls, "a raw-query hit must not parse")
	assert.Equal(t, first.Places, second.Places)
	assert.NotEqual(t, first.Debug.RequestID, second.Debug.RequestID)
	assert.NotNil(t, second.Debug.CachedAt)
	assert.Nil(t, second.Debug.SemanticMatch)
}

func TestExecute_SemanticHitNearby(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()
	calls := f.fetchCalls()

	resp, err := f.svc.Execute(ctx, "dive bars in Hoboken", false)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Equal(t, domain.CacheHit, resp.Debug.CacheStatus)
	assert.Equal(t, domain.TierSemantic, resp.Debug.CacheTier)
	assert.Equal(t, calls, f.fetchCalls(), "a semantic hit must not fetch")
	require.NotNil(t, resp.Debug.SemanticMatch)
	assert.Equal(t, "underground bars", resp.Debug.SemanticMatch.MatchedIntent)
	assert.InDelta(t, 0.9, resp.Debug.SemanticMatch.Similarity, 1e-5)
	assert.InDelta(t, 3.5, resp.Debug.SemanticMatch.DistanceMiles, 0.5)
	assert.Greater(t, resp.Debug.SemanticMatch.Relevance, 0.0)
	assert.Equal(t, "underground bars", resp.UserIntent, "payload is the cached one")
}

func TestExecute_SemanticMissOnDissimilarIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	resp, err := f.svc.Execute(ctx, "art museums in Hoboken", false)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheMiss, resp.Debug.CacheStatus)
}

func TestExecute_SemanticMissOutsideRadius(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	resp, err := f.svc.Execute(ctx, "dive bars in Albany", false)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheMiss, resp.Debug.CacheStatus, "Albany is ~135 miles away")
}

func TestExecute_OneSourceFails(t *testing.T) {
	f := newFixture(t, func(_ *Deps, f *fixture) {
		f.fetchers[1].err = errors.New("social: status 503: unavailable")
	})

	resp, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", false)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Places)
	for _, p := range resp.Places {
		assert.NotEqual(t, domain.SourceSocial, p.Source)
	}
	stats := resp.Debug.SourceStats
	assert.Equal(t, domain.SourceFailedStatus, stats[domain.SourceSocial].Status)
	assert.Contains(t, stats[domain.SourceSocial].Error, "503")
	assert.Equal(t, 0, stats[domain.SourceSocial].Count)
	assert.Equal(t, domain.SourceStat{Status: domain.SourceSuccess, Count: 4, DurationMS: stats[domain.SourceWebSearch].DurationMS},
		stats[domain.SourceWebSearch])
	assert.Equal(t, 4, stats[domain.SourceEvents].Count)
	assert.Equal(t, 1, f.logs.FilterMessage("source.failed").Len())
}

func TestExecute_SkippedSource(t *testing.T) {
	f := newFixture(t, func(_ *Deps, f *fixture) {
		f.fetchers[2].err = domain.ErrSourceSkipped
	})

	resp, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSkipped, resp.Debug.SourceStats[domain.SourceEvents].Status)
	assert.Equal(t, 0, f.logs.FilterMessage("source.failed").Len())
}

func TestExecute_PanickingSourceIsIsolated(t *testing.T) {
	f := newFixture(t, func(_ *Deps, f *fixture) {
		f.fetchers[0].items = func(domain.SearchContext) []domain.RawResult { panic("boom") }
	})

	resp, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFailedStatus, resp.Debug.SourceStats[domain.SourceWebSearch].Status)
	assert.Len(t, resp.Places, 8)
}

func TestExecute_AllSourcesFailSkipsCacheWrite(t *testing.T) {
	f := newFixture(t, func(_ *Deps, f *fixture) {
		for _, c := range f.fetchers {
			c.err = errors.New("down")
		}
	})
	ctx := context.Background()

	resp, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Empty(t, resp.Places)
	assert.Contains(t, resp.Response, "remain elusive")
	_, err = f.exact.Get(ctx, "underground bars in Manhattan", "")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestExecute_ForceBypassesCacheButWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	resp, err := f.svc.Execute(ctx, "underground bars in Manhattan", true)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Equal(t, domain.CacheMiss, resp.Debug.CacheStatus)
	assert.Equal(t, int32(6), f.fetchCalls())
	assert.Equal(t, 2, f.semanticEntries(t), "semantic entries are inserted, never replaced")
}

func TestExecute_InvalidInput(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"", "  a ", strings.Repeat("x", 501), "<script>alert(1)</script> bars"} {
		_, err := f.svc.Execute(context.Background(), q, false)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, q)
	}
	assert.Equal(t, 0, f.parser.calls)
}

func TestExecute_Unparseable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Execute(context.Background(), "something vague", false)
	assert.ErrorIs(t, err, domain.ErrUnparseableInput)
	assert.Equal(t, int32(0), f.fetchCalls())
}

func TestExecute_IncompleteParseIsUnparseable(t *testing.T) {
	f := newFixture(t, func(_ *Deps, f *fixture) {
		f.parser.queries["bars somewhere"] = domain.ParsedQuery{Intent: "bars"}
	})

	_, err := f.svc.Execute(context.Background(), "bars somewhere", false)
	assert.ErrorIs(t, err, domain.ErrUnparseableInput)
	assert.Equal(t, int32(0), f.fetchCalls())
}

func TestExecute_ParserUpstreamFailure(t *testing.T) {
	f := newFixture(t, func(_ *Deps, f *fixture) {
		f.parser.err = errors.New("connection reset")
	})

	_, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", false)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.NotErrorIs(t, err, domain.ErrUnparseableInput)
}

func TestExecute_EmbeddingFailureFallsBackToExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.err = errors.New("provider down")

	_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Equal(t, 0, f.semanticEntries(t), "no embedding, no semantic write")
	_, err = f.exact.Get(ctx, "underground bars", "Manhattan, US")
	require.NoError(t, err, "exact write still happens")

	// A differently worded query that parses to the same intent and location
	// is served by the exact tier.
	f.parser.queries["underground bars around Manhattan"] = domain.ParsedQuery{Location: "Manhattan", Intent: "underground bars"}
	calls := f.fetchCalls()
	resp, err := f.svc.Execute(ctx, "underground bars around Manhattan", false)
	require.NoError(t, err)
	assert.Equal(t, domain.TierExact, resp.Debug.CacheTier)
	assert.Equal(t, calls, f.fetchCalls())
}

func TestExecute_NoCoordinatesSkipsSemantic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Execute(ctx, "dive bars in Atlantis", false)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Equal(t, 0.5, resp.Debug.Confidence)
	assert.Nil(t, resp.Debug.Coordinates)
	assert.Equal(t, 0, f.embedder.calls, "no coordinates, no embedding")
	assert.Equal(t, 0, f.semanticEntries(t))
	_, err = f.exact.Get(ctx, "dive bars", "Atlantis")
	assert.NoError(t, err)
}

func TestExecute_ComposerFailureFallsBack(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *fixture) {
		d.Composer = &fakeComposer{err: errors.New("llm down")}
	})

	resp, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", false)
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse("underground bars", "Manhattan, US", 12), resp.Response)
}

func TestExecute_CacheWriteFailureIsInvisible(t *testing.T) {
	f := newFixture(t, func(d *Deps, f *fixture) {
		d.Exact = failingExact{f.exact}
	})

	resp, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()

	assert.Equal(t, domain.CacheMiss, resp.Debug.CacheStatus)
	assert.NotEmpty(t, resp.Places)
	assert.Equal(t, 2, f.logs.FilterMessage("cache.write_failed").Len())
	assert.Equal(t, 1, f.semanticEntries(t), "semantic write is independent of exact failures")
}

func TestExecute_SaturatedWritePoolDoesNotDelayResponse(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(d *Deps, f *fixture) {
		d.Exact = stalledExact{Repo: f.exact, release: release}
		f.cfg = Config{WriteWorkers: 1, WriteTimeout: 5 * time.Second}
	})
	t.Cleanup(func() { close(release) })

	begin := time.Now()
	resp, err := f.svc.Execute(context.Background(), "underground bars in Manhattan", true)
	require.NoError(t, err)

	assert.Less(t, time.Since(begin), time.Second)
	assert.NotEmpty(t, resp.Places)
	assert.Equal(t, 2, f.logs.FilterMessage("cache.write_dropped").Len())
}

func TestExecute_LogsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)
	f.svc.Flush()
	_, err = f.svc.Execute(ctx, "underground bars in Manhattan", false)
	require.NoError(t, err)

	assert.Equal(t, 2, f.logs.FilterMessage("search.start").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("search.complete").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("search.cache_hit").Len())
}

func TestExecute_ConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Execute(ctx, "underground bars in Manhattan", false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	f.svc.Flush()

	_, err := f.exact.Get(ctx, "underground bars in Manhattan", "")
	assert.NoError(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	assert.Error(t, err)
}

func TestFallbackResponse(t *testing.T) {
	assert.Contains(t, FallbackResponse("bars", "Austin", 0), "remain elusive")
	assert.Contains(t, FallbackResponse("bars", "Austin", 1), "offers 1 discoveries")
	assert.Contains(t, FallbackResponse("bars", "Austin", 7), "reveals 7 intriguing spots")
}
