package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

// Eventbrite "local" timestamps carry no zone.
const eventLocalLayout = "2006-01-02T15:04:05"

// Events queries Eventbrite event search.
type Events struct {
	cfg Config
}

// NewEvents creates the events fetcher.
func NewEvents(cfg Config) *Events {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Events{cfg: cfg}
}

// Source implements Fetcher.
func (e *Events) Source() domain.Source { return domain.SourceEvents }

type eventbriteResponse struct {
	Events []struct {
		Name struct {
			Text string `json:"text"`
		} `json:"name"`
		Description struct {
			Text string `json:"text"`
		} `json:"description"`
		URL   string `json:"url"`
		Start struct {
			Local string `json:"local"`
			UTC   string `json:"utc"`
		} `json:"start"`
		Venue *struct {
			Name string `json:"name"`
		} `json:"venue"`
	} `json:"events"`
}

// Fetch implements Fetcher. Without a token the source is skipped.
func (e *Events) Fetch(ctx context.Context, sc domain.SearchContext) ([]domain.RawResult, error) {
	if e.cfg.APIKey == "" {
		return nil, fmt.Errorf("events: no token: %w", domain.ErrSourceSkipped)
	}

	q := url.Values{}
	q.Set("q", sc.Intent())
	q.Set("location.address", sc.NormalizedLocation())
	q.Set("expand", "venue")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/events/search/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("events: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	var body eventbriteResponse
	if err := getJSON(e.cfg.client(), req, &body); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	out := make([]domain.RawResult, 0, len(body.Events))
	for i, ev := range body.Events {
		if i == e.cfg.limit() {
			break
		}
		md := domain.Metadata{StartsAt: parseStart(ev.Start.UTC, ev.Start.Local)}
		if ev.Venue != nil {
			md.Venue = ev.Venue.Name
		}
		out = append(out, domain.RawResult{
			Name:        strings.TrimSpace(ev.Name.Text),
			Description: truncate(ev.Description.Text, descriptionLimit),
			Source:      domain.SourceEvents,
			URL:         ev.URL,
			Metadata:    md,
		})
	}
	return out, nil
}

// parseStart prefers the UTC timestamp and falls back to local time read as UTC.
func parseStart(utc, local string) *time.Time {
	if t, err := time.Parse(time.RFC3339, utc); err == nil {
		return &t
	}
	if t, err := time.Parse(eventLocalLayout, local); err == nil {
		return &t
	}
	return nil
}
