package search

import (
	"context"
	"time"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/exactcache"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/semcache"
)

// ExactCache is the exact-match cache tier.
type ExactCache interface {
	Get(ctx context.Context, query, location string) (*exactcache.Entry, error)
	Put(ctx context.Context, query, location string, resp *domain.SearchResponse) error
}

// SemanticCache is the meaning-and-proximity cache tier.
type SemanticCache interface {
	Embed(ctx context.Context, intent string) ([]float32, error)
	FindSimilar(ctx context.Context, q semcache.Query) ([]semcache.Match, error)
	Store(
		ctx context.Context, intent string, loc domain.Location,
		embedding []float32, resp *domain.SearchResponse, ttl time.Duration,
	) (string, error)
	BumpAccess(ctx context.Context, id string) error
}

// Parser extracts location and intent from query text.
type Parser interface {
	Parse(ctx context.Context, text string) (domain.ParsedQuery, error)
}

// Geocoder normalizes a location. It degrades instead of failing.
type Geocoder interface {
	Geocode(ctx context.Context, raw string) domain.Location
}

// Fetcher retrieves raw results from one content source.
type Fetcher interface {
	Source() domain.Source
	Fetch(ctx context.Context, sc domain.SearchContext) ([]domain.RawResult, error)
}

// Composer writes the response text for ranked places.
type Composer interface {
	Compose(ctx context.Context, intent, location string, places []domain.Place) (string, error)
}
