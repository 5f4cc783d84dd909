// Package geoapify resolves free-text locations through the Geoapify geocoding API.
package geoapify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
)

const (
	searchPath        = "/v1/geocode/search"
	defaultConfidence = 0.8
	maxErrorBody      = 512
)

var errNoResults = errors.New("no geocoding results")

// locationCache is the normalization cache consulted before the provider.
type locationCache interface {
	Get(ctx context.Context, raw string) (domain.Location, error)
	Put(ctx context.Context, raw string, loc domain.Location) error
}

// Config holds geocoder settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Limit      int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Geocoder normalizes locations. It never fails: provider trouble degrades to the raw text.
type Geocoder struct {
	apiKey  string
	baseURL string
	limit   int
	client  *http.Client
	cache   locationCache
	logger  *zap.Logger
}

// New creates a Geocoder. cache may be nil.
func New(cfg Config, cache locationCache) *Geocoder {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 5
	}
	return &Geocoder{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limit:   limit,
		client:  client,
		cache:   cache,
		logger:  logger,
	}
}

// Geocode resolves raw into a normalized location. Cached normalizations are
// reused; provider failures and empty result sets yield domain.DegradedLocation.
func (g *Geocoder) Geocode(ctx context.Context, raw string) domain.Location {
	raw = strings.TrimSpace(raw)

	if g.cache != nil {
		loc, err := g.cache.Get(ctx, raw)
		if err == nil {
			metrics.CacheLookupsTotal.WithLabelValues("location", "hit").Inc()
			return loc
		}
		if errors.Is(err, domain.ErrCacheMiss) {
			metrics.CacheLookupsTotal.WithLabelValues("location", "miss").Inc()
		} else {
			metrics.CacheLookupsTotal.WithLabelValues("location", "error").Inc()
			g.logger.Warn("Location cache read failed", zap.Error(err))
		}
	}

	if g.apiKey == "" {
		g.logger.Debug("Geocoding disabled, using raw location", zap.String("input", raw))
		return domain.DegradedLocation(raw)
	}

	loc, err := g.lookup(ctx, raw)
	if err != nil {
		g.logger.Warn("Geocoding degraded to raw location",
			zap.String("input", raw),
			zap.Error(err),
		)
		return domain.DegradedLocation(raw)
	}

	g.logger.Debug("Geocoded location",
		zap.String("input", raw),
		zap.String("normalized", loc.Normalized),
		zap.Float64("confidence", loc.Confidence),
	)

	if g.cache != nil {
		if err := g.cache.Put(ctx, raw, loc); err != nil {
			metrics.CacheWritesTotal.WithLabelValues("location", "error").Inc()
			g.logger.Warn("Location cache write failed", zap.Error(err))
		} else {
			metrics.CacheWritesTotal.WithLabelValues("location", "success").Inc()
		}
	}
	return loc
}

type featureCollection struct {
	Features []struct {
		Properties properties `json:"properties"`
	} `json:"features"`
}

type properties struct {
	City      string   `json:"city"`
	Town      string   `json:"town"`
	Village   string   `json:"village"`
	County    string   `json:"county"`
	State     string   `json:"state"`
	Region    string   `json:"region"`
	Country   string   `json:"country"`
	Postcode  string   `json:"postcode"`
	Formatted string   `json:"formatted"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Rank      struct {
		Confidence *float64 `json:"confidence"`
	} `json:"rank"`
}

func (g *Geocoder) lookup(ctx context.Context, raw string) (domain.Location, error) {
	q := url.Values{}
	q.Set("text", raw)
	q.Set("limit", strconv.Itoa(g.limit))
	q.Set("apiKey", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+searchPath+"?"+q.Encode(), nil)
	if err != nil {
		return domain.Location{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Location{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Location{}, fmt.Errorf("geocode status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return domain.Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(fc.Features) == 0 {
		return domain.Location{}, errNoResults
	}

	return toLocation(raw, fc), nil
}

func toLocation(raw string, fc featureCollection) domain.Location {
	p := fc.Features[0].Properties

	loc := domain.Location{
		Raw:        raw,
		City:       firstNonEmpty(p.City, p.Town, p.Village),
		County:     p.County,
		Region:     firstNonEmpty(p.State, p.Region),
		Country:    p.Country,
		PostalCode: p.Postcode,
		Confidence: defaultConfidence,
	}
	if p.Rank.Confidence != nil {
		loc.Confidence = domain.Clamp01(*p.Rank.Confidence)
	}

	loc.Normalized = joinNonEmpty(loc.City, loc.Region, loc.Country)
	if loc.Normalized == "" {
		loc.Normalized = firstNonEmpty(p.Formatted, raw)
	}

	if p.Lat != nil && p.Lon != nil && geo.ValidateCoordinates(*p.Lat, *p.Lon) {
		loc.Coordinates = &geo.Point{Lat: *p.Lat, Lng: *p.Lon}
	}

	for _, f := range fc.Features {
		if f.Properties.Formatted != "" {
			loc.RawCandidates = append(loc.RawCandidates, f.Properties.Formatted)
		}
	}
	return loc
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(vals ...string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
