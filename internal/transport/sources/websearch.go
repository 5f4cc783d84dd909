package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

// Config holds one source's connection settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Limit      int
	UserAgent  string
	HTTPClient *http.Client
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Config) limit() int {
	if c.Limit <= 0 {
		return 10
	}
	return c.Limit
}

// WebSearch queries SerpAPI organic results.
type WebSearch struct {
	cfg Config
}

// NewWebSearch creates the web-search fetcher.
func NewWebSearch(cfg Config) *WebSearch {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WebSearch{cfg: cfg}
}

// Source implements Fetcher.
func (w *WebSearch) Source() domain.Source { return domain.SourceWebSearch }

type serpResponse struct {
	OrganicResults []struct {
		Title    string `json:"title"`
		Snippet  string `json:"snippet"`
		Link     string `json:"link"`
		Position int    `json:"position"`
	} `json:"organic_results"`
}

// Fetch implements Fetcher. Without an API key the source is skipped.
func (w *WebSearch) Fetch(ctx context.Context, sc domain.SearchContext) ([]domain.RawResult, error) {
	if w.cfg.APIKey == "" {
		return nil, fmt.Errorf("web-search: no api key: %w", domain.ErrSourceSkipped)
	}

	loc := sc.NormalizedLocation()
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", fmt.Sprintf("%s %s underground local hidden", sc.Intent(), loc))
	q.Set("location", loc)
	q.Set("hl", "en")
	q.Set("gl", "us")
	q.Set("num", strconv.Itoa(w.cfg.limit()))
	q.Set("api_key", w.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("web-search: build request: %w", err)
	}

	var body serpResponse
	if err := getJSON(w.cfg.client(), req, &body); err != nil {
		return nil, fmt.Errorf("web-search: %w", err)
	}

	out := make([]domain.RawResult, 0, len(body.OrganicResults))
	for i, r := range body.OrganicResults {
		if i == w.cfg.limit() {
			break
		}
		pos := r.Position
		if pos <= 0 {
			pos = i + 1
		}
		out = append(out, domain.RawResult{
			Name:        strings.TrimSpace(r.Title),
			Description: truncate(r.Snippet, descriptionLimit),
			Source:      domain.SourceWebSearch,
			URL:         r.Link,
			Metadata:    domain.Metadata{Position: pos},
		})
	}
	return out, nil
}
