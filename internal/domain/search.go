package domain

import (
	"strings"
	"time"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
)

// Source identifies the content source a result came from.
type Source string

const (
	// SourceWebSearch is the general web search source.
	SourceWebSearch Source = "web-search"
	// SourceSocial is the social feed source.
	SourceSocial Source = "social"
	// SourceEvents is the events feed source.
	SourceEvents Source = "events"
)

// Sources lists every content source in default priority order.
func Sources() []Source {
	return []Source{SourceWebSearch, SourceSocial, SourceEvents}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceWebSearch, SourceSocial, SourceEvents:
		return true
	}
	return false
}

// Category is the ranking tier of a scored result.
type Category string

const (
	// CategoryPrimary results lead the response.
	CategoryPrimary Category = "primary"
	// CategoryNearby results follow the primary tier.
	CategoryNearby Category = "nearby"
	// CategoryDiscarded results are kept only for summary statistics.
	CategoryDiscarded Category = "discarded"
)

// CacheStatus marks whether a response was served from cache.
type CacheStatus string

const (
	// CacheHit marks a response served from a cache tier.
	CacheHit CacheStatus = "hit"
	// CacheMiss marks a freshly computed response.
	CacheMiss CacheStatus = "miss"
)

// CacheTier names the cache tier that produced a hit.
type CacheTier string

const (
	// TierExact is the hash-keyed exact cache.
	TierExact CacheTier = "exact"
	// TierSemantic is the embedding + geo-radius cache.
	TierSemantic CacheTier = "semantic"
)

// ParsedQuery is the parser output: where and what.
type ParsedQuery struct {
	Location string `json:"location"`
	Intent   string `json:"intent"`
}

// Complete reports whether both fields were extracted.
func (p ParsedQuery) Complete() bool {
	return strings.TrimSpace(p.Location) != "" && strings.TrimSpace(p.Intent) != ""
}

// Location is a geocoded location with decomposed address fields.
type Location struct {
	Raw           string     `json:"raw"`
	Normalized    string     `json:"normalized_location"`
	Coordinates   *geo.Point `json:"coordinates,omitempty"`
	Confidence    float64    `json:"confidence"`
	City          string     `json:"city,omitempty"`
	County        string     `json:"county,omitempty"`
	Region        string     `json:"region,omitempty"`
	Country       string     `json:"country,omitempty"`
	PostalCode    string     `json:"postal_code,omitempty"`
	RawCandidates []string   `json:"raw_candidates,omitempty"`
}

// DegradedLocation treats raw text as the normalized location with low confidence.
func DegradedLocation(raw string) Location {
	return Location{Raw: raw, Normalized: raw, Confidence: 0.5}
}

// SearchContext is the per-request view of what and where. Immutable after construction.
type SearchContext struct {
	intent   string
	location Location
}

// NewSearchContext builds a SearchContext from the parsed intent and geocoded location.
func NewSearchContext(intent string, loc Location) SearchContext {
	if loc.Coordinates != nil {
		c := *loc.Coordinates
		loc.Coordinates = &c
	}
	loc.RawCandidates = append([]string(nil), loc.RawCandidates...)
	return SearchContext{intent: strings.TrimSpace(intent), location: loc}
}

// Intent returns the parsed intent.
func (c SearchContext) Intent() string { return c.intent }

// Location returns a copy of the geocoded location.
func (c SearchContext) Location() Location {
	loc := c.location
	if loc.Coordinates != nil {
		p := *loc.Coordinates
		loc.Coordinates = &p
	}
	loc.RawCandidates = append([]string(nil), loc.RawCandidates...)
	return loc
}

// NormalizedLocation returns the normalized location text.
func (c SearchContext) NormalizedLocation() string { return c.location.Normalized }

// Coordinates returns the location coordinates when known.
func (c SearchContext) Coordinates() (geo.Point, bool) {
	if c.location.Coordinates == nil {
		return geo.Point{}, false
	}
	return *c.location.Coordinates, true
}

// Confidence returns the geocoding confidence in [0,1].
func (c SearchContext) Confidence() float64 { return c.location.Confidence }

// Metadata carries optional source-specific signals.
type Metadata struct {
	Position  int        `json:"position,omitempty"`  // web-search rank, 1-based
	Score     int        `json:"score,omitempty"`     // social post score
	Community string     `json:"community,omitempty"` // social sub-forum
	StartsAt  *time.Time `json:"starts_at,omitempty"` // events start time
	Venue     string     `json:"venue,omitempty"`     // events venue name
}

// RawResult is one item returned by a content-source fetcher.
type RawResult struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Source      Source   `json:"source"`
	URL         string   `json:"url"`
	Metadata    Metadata `json:"metadata"`
}

// ScoredResult is a RawResult with its score and tier.
type ScoredResult struct {
	RawResult
	Score    float64  `json:"score"`
	Category Category `json:"category"`
}

// Place is one entry of the response places list.
type Place struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Source      Source   `json:"source"`
	URL         string   `json:"url"`
	Score       float64  `json:"score"`
	Category    Category `json:"category"`
}

// PlaceFrom projects a scored result onto the response shape.
func PlaceFrom(r ScoredResult) Place {
	return Place{
		Name:        r.Name,
		Description: r.Description,
		Source:      r.Source,
		URL:         r.URL,
		Score:       r.Score,
		Category:    r.Category,
	}
}

// SourceStatus is the outcome of one fetch.
type SourceStatus string

const (
	// SourceSuccess marks a source that returned.
	SourceSuccess SourceStatus = "success"
	// SourceFailedStatus marks a source that failed or timed out.
	SourceFailedStatus SourceStatus = "failed"
	// SourceSkipped marks a source that is not configured.
	SourceSkipped SourceStatus = "skipped"
)

// SourceStat records one source's fetch outcome.
type SourceStat struct {
	Status     SourceStatus `json:"status"`
	Count      int          `json:"count"`
	Error      string       `json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// ScoreDistribution summarizes scores of ranked results.
type ScoreDistribution struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// ScoringSummary is the observability view of a ranking pass.
type ScoringSummary struct {
	TotalInput   int                `json:"total_input"`
	Dropped      int                `json:"dropped"`
	Duplicates   int                `json:"duplicates"`
	Ranked       int                `json:"ranked"`
	PerCategory  map[Category]int   `json:"per_category"`
	PerSource    map[Source]int     `json:"per_source"`
	Distribution *ScoreDistribution `json:"distribution,omitempty"`
}

// SemanticMatch describes the semantic cache entry that served a hit.
type SemanticMatch struct {
	EntryID       string  `json:"entry_id"`
	MatchedIntent string  `json:"matched_intent"`
	Similarity    float64 `json:"similarity"`
	DistanceMiles float64 `json:"distance_miles"`
	Relevance     float64 `json:"relevance"`
}

// Debug is the observability block of a response.
type Debug struct {
	RequestID          string                `json:"request_id"`
	ExecutionTimeMS    int64                 `json:"execution_time_ms"`
	DataSourceMS       int64                 `json:"data_source_ms,omitempty"`
	Parsed             *ParsedQuery          `json:"parsed,omitempty"`
	NormalizedLocation string                `json:"normalized_location,omitempty"`
	Coordinates        *geo.Point            `json:"coordinates,omitempty"`
	Confidence         float64               `json:"confidence,omitempty"`
	SourceStats        map[Source]SourceStat `json:"source_stats,omitempty"`
	ScoringSummary     *ScoringSummary       `json:"scoring_summary,omitempty"`
	CacheStatus        CacheStatus           `json:"cache_status"`
	CacheTier          CacheTier             `json:"cache_tier,omitempty"`
	SemanticMatch      *SemanticMatch        `json:"semantic_match,omitempty"`
	CachedAt           *time.Time            `json:"cached_at,omitempty"`
}

// SearchResponse is the full payload returned for a query and stored in both cache tiers.
type SearchResponse struct {
	UserIntent   string  `json:"user_intent"`
	UserLocation string  `json:"user_location"`
	Response     string  `json:"response"`
	Places       []Place `json:"places"`
	Debug        Debug   `json:"debug"`
}

// Clone returns a deep copy so cached payloads are never mutated by annotation.
func (r *SearchResponse) Clone() *SearchResponse {
	out := *r
	out.Places = append([]Place(nil), r.Places...)
	if r.Debug.Parsed != nil {
		p := *r.Debug.Parsed
		out.Debug.Parsed = &p
	}
	if r.Debug.Coordinates != nil {
		c := *r.Debug.Coordinates
		out.Debug.Coordinates = &c
	}
	if r.Debug.SourceStats != nil {
		out.Debug.SourceStats = make(map[Source]SourceStat, len(r.Debug.SourceStats))
		for k, v := range r.Debug.SourceStats {
			out.Debug.SourceStats[k] = v
		}
	}
	if r.Debug.ScoringSummary != nil {
		s := *r.Debug.ScoringSummary
		out.Debug.ScoringSummary = &s
	}
	if r.Debug.SemanticMatch != nil {
		m := *r.Debug.SemanticMatch
		out.Debug.SemanticMatch = &m
	}
	if r.Debug.CachedAt != nil {
		t := *r.Debug.CachedAt
		out.Debug.CachedAt = &t
	}
	return &out
}
