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

const redditPermalinkHost = "https://reddit.com"

// Social queries Reddit's public search.
type Social struct {
	cfg Config
}

// NewSocial creates the social fetcher.
func NewSocial(cfg Config) *Social {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Underfoot/1.0"
	}
	return &Social{cfg: cfg}
}

// Source implements Fetcher.
func (s *Social) Source() domain.Source { return domain.SourceSocial }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title     string `json:"title"`
				Selftext  string `json:"selftext"`
				Permalink string `json:"permalink"`
				Subreddit string `json:"subreddit"`
				Score     int    `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch implements Fetcher.
func (s *Social) Fetch(ctx context.Context, sc domain.SearchContext) ([]domain.RawResult, error) {
	q := url.Values{}
	q.Set("q", sc.Intent()+" "+sc.NormalizedLocation())
	q.Set("limit", strconv.Itoa(s.cfg.limit()))
	q.Set("sort", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("social: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	var body redditListing
	if err := getJSON(s.cfg.client(), req, &body); err != nil {
		return nil, fmt.Errorf("social: %w", err)
	}

	out := make([]domain.RawResult, 0, len(body.Data.Children))
	for i, c := range body.Data.Children {
		if i == s.cfg.limit() {
			break
		}
		post := c.Data
		var link string
		if post.Permalink != "" {
			link = redditPermalinkHost + post.Permalink
		}
		out = append(out, domain.RawResult{
			Name:        strings.TrimSpace(post.Title),
			Description: truncate(post.Selftext, descriptionLimit),
			Source:      domain.SourceSocial,
			URL:         link,
			Metadata:    domain.Metadata{Score: post.Score, Community: post.Subreddit},
		})
	}
	return out, nil
}
