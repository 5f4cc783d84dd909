// Package semcache is the semantic cache tier: search responses stored with
// an intent embedding and coordinates, matched by cosine similarity inside a
// geographic radius.
package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/search/filter"
)

var (
	// KeyPrefix namespaces semantic cache hashes.
	KeyPrefix = domain.KeyPrefix + "semantic:"
	// IndexName is the FT index over KeyPrefix.
	IndexName = KeyPrefix + "idx"
)

// Hash field names.
const (
	fieldIntent     = "intent"
	fieldVector     = "vector"
	fieldLocation   = "location"
	fieldCity       = "city"
	fieldCounty     = "county"
	fieldRegion     = "region"
	fieldCountry    = "country"
	fieldPostalCode = "postal_code"
	fieldLatitude   = "latitude"
	fieldLongitude  = "longitude"
	fieldGeo        = "geo"
	fieldResults    = "cached_results"
	fieldAccess     = "access_count"
	fieldCreatedAt  = "created_at"
	fieldExpiresAt  = "expires_at"
)

// Relevance weights.
const (
	similarityWeight = 0.8
	proximityWeight  = 0.2
)

const (
	// similarityEpsilon absorbs float32 rounding of stored vectors at the threshold.
	similarityEpsilon = 1e-7
	// candidateScoreSlack absorbs the rounding of store-reported KNN distances.
	candidateScoreSlack = 1e-4
	// maxCandidates caps the widened KNN page.
	maxCandidates = 1024
	// prefilterRadiusPad widens the store GEO filter so geohash rounding never
	// drops an entry the exact haversine check would accept.
	prefilterRadiusPad = 1.005
)

var returnFields = []string{
	fieldIntent, fieldVector, fieldLocation, fieldLatitude, fieldLongitude,
	fieldResults, fieldAccess, fieldCreatedAt, fieldExpiresAt,
}

// ErrNotStorable is returned by Store when an entry lacks an embedding or coordinates.
var ErrNotStorable = errors.New("semantic cache entry needs an embedding and coordinates")

// store is the consumer interface for the semantic cache (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index string, filters filter.Expression) (int, error)
	Ping(ctx context.Context) error
}

// Config holds semantic cache tuning.
type Config struct {
	Dimensions     int
	HNSWM          int
	HNSWEF         int
	TTL            time.Duration
	CandidateLimit int // first KNN page size; widened while candidates still clear the threshold
}

// Query describes a semantic lookup.
type Query struct {
	Embedding   []float32
	Center      geo.Point
	RadiusMiles float64
	Threshold   float64
	Limit       int
}

// Match is a cached entry that satisfied a Query.
type Match struct {
	ID            string
	Intent        string
	Location      string
	Similarity    float64
	DistanceMiles float64
	Relevance     float64
	AccessCount   int64
	Response      *domain.SearchResponse
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Stats summarizes the semantic cache contents.
type Stats struct {
	TotalEntries   int  `json:"total_entries"`
	LiveEntries    int  `json:"live_entries"`
	ExpiredEntries int  `json:"expired_entries"`
	Connected      bool `json:"connected"`
}

// Repo is the semantic cache tier.
type Repo struct {
	store    store
	embedder domain.Embedder
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a semantic cache over store, embedding intents with embedder.
func New(s store, embedder domain.Embedder, cfg Config, logger *zap.Logger) *Repo {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 10
	}
	return &Repo{store: s, embedder: embedder, cfg: cfg, now: time.Now, logger: logger}
}

// IndexDefinition returns the FT index the cache searches.
func (r *Repo) IndexDefinition() (*db.IndexDefinition, error) {
	return db.NewIndex(IndexName).
		Prefix(KeyPrefix).
		Numeric(fieldExpiresAt).
		Geo(fieldGeo).
		VectorHNSW(fieldVector, r.cfg.Dimensions, db.DistanceCosine, r.cfg.HNSWM, r.cfg.HNSWEF).
		Build()
}

// EnsureIndex creates the index unless it already exists.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def, err := r.IndexDefinition()
	if err != nil {
		return fmt.Errorf("semantic index definition: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create semantic index: %w", err)
	}
	return nil
}

// Embed vectorizes an intent. Any failure is reported as domain.ErrEmbeddingUnavailable.
func (r *Repo) Embed(ctx context.Context, intent string) ([]float32, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, fmt.Errorf("%w: empty intent", domain.ErrEmbeddingUnavailable)
	}
	res, err := r.embedder.Embed(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if len(res.Embedding) == 0 {
		return nil, fmt.Errorf("%w: provider returned no vector", domain.ErrEmbeddingUnavailable)
	}
	return res.Embedding, nil
}

// Find embeds intent and returns the best live match within radiusMiles of
// center whose similarity is at least threshold, or domain.ErrCacheMiss.
func (r *Repo) Find(
	ctx context.Context, intent string, center geo.Point, radiusMiles, threshold float64,
) (*Match, error) {
	vec, err := r.Embed(ctx, intent)
	if err != nil {
		return nil, err
	}
	matches, err := r.FindSimilar(ctx, Query{
		Embedding:   vec,
		Center:      center,
		RadiusMiles: radiusMiles,
		Threshold:   threshold,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, domain.ErrCacheMiss
	}
	return &matches[0], nil
}

// FindSimilar returns live entries satisfying q, best relevance first.
// The store narrows candidates by expiry and radius; every candidate is then
// re-checked here against the exact similarity and haversine distance.
func (r *Repo) FindSimilar(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrEmbeddingUnavailable)
	}
	if !q.Center.Valid() {
		return nil, fmt.Errorf("%w: invalid center (%f, %f)", domain.ErrInvalidInput, q.Center.Lat, q.Center.Lng)
	}
	if q.RadiusMiles <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", domain.ErrInvalidInput)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in [0,1]", domain.ErrInvalidInput)
	}

	now := r.now()
	filters, err := prefilter(now, q.Center, q.RadiusMiles)
	if err != nil {
		return nil, err
	}
	entries, err := r.candidates(ctx, q, filters)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		m, ok := r.evaluate(e, q, now)
		if ok {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return better(matches[i], matches[j]) })
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// candidates fetches KNN pages of growing size until every entry that can
// clear q.Threshold is in hand. The store orders by similarity alone, so a
// truncated page could hide a closer entry with a higher relevance.
func (r *Repo) candidates(ctx context.Context, q Query, filters filter.Expression) ([]db.SearchEntry, error) {
	k := max(r.cfg.CandidateLimit, q.Limit)
	for {
		sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
			IndexName:    IndexName,
			Filters:      filters,
			Vector:       q.Embedding,
			VectorField:  fieldVector,
			K:            k,
			ReturnFields: returnFields,
		})
		if err != nil {
			return nil, fmt.Errorf("semantic knn: %w", err)
		}
		n := len(sr.Entries)
		if n < k || sr.Entries[n-1].Score+candidateScoreSlack < q.Threshold || k >= maxCandidates {
			if n == maxCandidates {
				r.logger.Warn("Semantic candidates truncated", zap.Int("limit", maxCandidates))
			}
			return sr.Entries, nil
		}
		k = min(2*k, maxCandidates)
	}
}

func prefilter(now time.Time, center geo.Point, radiusMiles float64) (filter.Expression, error) {
	live, err := liveCondition(now)
	if err != nil {
		return filter.Expression{}, err
	}
	near, err := filter.Within(fieldGeo, filter.GeoRadius{Center: center, Radius: radiusMiles * prefilterRadiusPad, Unit: geo.Miles})
	if err != nil {
		return filter.Expression{}, err
	}
	return filter.And(live, near)
}

// liveCondition selects entries whose expiry is still in the future.
func liveCondition(now time.Time) (filter.Condition, error) {
	return filter.InRange(fieldExpiresAt, filter.Above(float64(now.Unix())))
}

// evaluate applies the exact acceptance rules to one candidate.
func (r *Repo) evaluate(e db.SearchEntry, q Query, now time.Time) (Match, bool) {
	id := strings.TrimPrefix(e.Key, KeyPrefix)
	f := e.Fields

	vec, err := db.DecodeVector([]byte(f[fieldVector]))
	if err != nil || len(vec) == 0 {
		return Match{}, false
	}
	lat, errLat := strconv.ParseFloat(f[fieldLatitude], 64)
	lng, errLng := strconv.ParseFloat(f[fieldLongitude], 64)
	if errLat != nil || errLng != nil || !geo.ValidateCoordinates(lat, lng) {
		return Match{}, false
	}
	expiresAt, err := strconv.ParseInt(f[fieldExpiresAt], 10, 64)
	if err != nil || !now.Before(time.Unix(expiresAt, 0)) {
		return Match{}, false
	}

	sim := domain.CosineSimilarity(q.Embedding, vec)
	if sim+similarityEpsilon < q.Threshold {
		return Match{}, false
	}
	dist := geo.HaversineMiles(q.Center.Lat, q.Center.Lng, lat, lng)
	if dist > q.RadiusMiles {
		return Match{}, false
	}

	var resp domain.SearchResponse
	if err := json.Unmarshal([]byte(f[fieldResults]), &resp); err != nil {
		r.logger.Warn("Skipping semantic entry with unreadable payload", zap.String("id", id), zap.Error(err))
		return Match{}, false
	}

	createdAt, _ := strconv.ParseInt(f[fieldCreatedAt], 10, 64)
	access, _ := strconv.ParseInt(f[fieldAccess], 10, 64)
	return Match{
		ID:            id,
		Intent:        f[fieldIntent],
		Location:      f[fieldLocation],
		Similarity:    sim,
		DistanceMiles: dist,
		Relevance:     Relevance(sim, dist, q.RadiusMiles),
		AccessCount:   access,
		Response:      &resp,
		CreatedAt:     time.Unix(createdAt, 0),
		ExpiresAt:     time.Unix(expiresAt, 0),
	}, true
}

// Relevance combines similarity and proximity: 0.8*similarity + 0.2*proximity,
// with proximity falling linearly from 1 at the center to 0 at the radius.
func Relevance(similarity, distanceMiles, radiusMiles float64) float64 {
	return similarityWeight*domain.Clamp01(similarity) + proximityWeight*geo.Proximity(distanceMiles, radiusMiles)
}

// better orders by relevance, then similarity, then distance, then recency.
func better(a, b Match) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.DistanceMiles != b.DistanceMiles {
		return a.DistanceMiles < b.DistanceMiles
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Store inserts a new entry and returns its id. A non-positive ttl uses the
// configured default. Entries are never updated in place.
func (r *Repo) Store(
	ctx context.Context,
	intent string,
	loc domain.Location,
	embedding []float32,
	resp *domain.SearchResponse,
	ttl time.Duration,
) (string, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" || resp == nil {
		return "", fmt.Errorf("%w: intent and response are required", domain.ErrInvalidInput)
	}
	if len(embedding) == 0 || loc.Coordinates == nil || !loc.Coordinates.Valid() {
		return "", ErrNotStorable
	}
	if ttl <= 0 {
		ttl = r.cfg.TTL
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encode semantic payload: %w", err)
	}

	now := r.now()
	id := uuid.New().String()
	key := KeyPrefix + id
	p := *loc.Coordinates
	fields := map[string]string{
		fieldIntent:     intent,
		fieldVector:     string(db.EncodeVector(embedding)),
		fieldLocation:   loc.Normalized,
		fieldCity:       loc.City,
		fieldCounty:     loc.County,
		fieldRegion:     loc.Region,
		fieldCountry:    loc.Country,
		fieldPostalCode: loc.PostalCode,
		fieldLatitude:   strconv.FormatFloat(p.Lat, 'f', -1, 64),
		fieldLongitude:  strconv.FormatFloat(p.Lng, 'f', -1, 64),
		fieldGeo:        filter.FormatGeoValue(p),
		fieldResults:    string(payload),
		fieldAccess:     "0",
		fieldCreatedAt:  strconv.FormatInt(now.Unix(), 10),
		fieldExpiresAt:  strconv.FormatInt(domain.ExpiresAtUnix(now, ttl), 10),
	}

	if err := r.store.HSet(ctx, key, fields); err != nil {
		return "", fmt.Errorf("store semantic entry: %w", err)
	}
	if err := r.store.Expire(ctx, key, ttl); err != nil {
		// drop entries that would never expire
		_ = r.store.Del(ctx, key)
		return "", fmt.Errorf("expire semantic entry: %w", err)
	}
	return id, nil
}

// BumpAccess increments the access counter of an entry.
func (r *Repo) BumpAccess(ctx context.Context, id string) error {
	if _, err := r.store.HIncrBy(ctx, KeyPrefix+id, fieldAccess, 1); err != nil {
		return fmt.Errorf("bump semantic access %s: %w", id, err)
	}
	return nil
}

// Statistics reports entry counts. It never fails: an unreachable store
// yields zero counts with Connected false.
func (r *Repo) Statistics(ctx context.Context) Stats {
	if err := r.store.Ping(ctx); err != nil {
		return Stats{}
	}
	total, err := r.store.SearchCount(ctx, IndexName, filter.Expression{})
	if err != nil {
		if !errors.Is(err, db.ErrIndexNotFound) {
			r.logger.Warn("Semantic cache count failed", zap.Error(err))
		}
		return Stats{Connected: true}
	}

	cond, err := liveCondition(r.now())
	if err != nil {
		return Stats{TotalEntries: total, Connected: true}
	}
	expr, _ := filter.And(cond)
	live, err := r.store.SearchCount(ctx, IndexName, expr)
	if err != nil {
		r.logger.Warn("Semantic cache live count failed", zap.Error(err))
		return Stats{TotalEntries: total, Connected: true}
	}
	if live > total {
		live = total
	}
	return Stats{TotalEntries: total, LiveEntries: live, ExpiredEntries: total - live, Connected: true}
}
