// Package sources fetches raw results from the three content sources:
// web search (SerpAPI), social (Reddit) and events (Eventbrite).
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

const (
	descriptionLimit = 200
	maxErrorBody     = 512
)

// Fetcher retrieves raw results for a search context from one source.
type Fetcher interface {
	Source() domain.Source
	Fetch(ctx context.Context, sc domain.SearchContext) ([]domain.RawResult, error)
}

// BreakerConfig configures the circuit breaker around a fetcher.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	MinRequests         uint32
	FailureRatio        float64
	ConsecutiveFailures uint32
}

// Guarded wraps a Fetcher with a per-call timeout and a circuit breaker.
// An open breaker short-circuits to an error wrapping domain.ErrSourceFailed.
type Guarded struct {
	inner   Fetcher
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Guard wraps f. A zero timeout leaves the caller's deadline in charge.
func Guard(f Fetcher, timeout time.Duration, cfg BreakerConfig, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guarded{inner: f, timeout: timeout, logger: logger}

	st := gobreaker.Settings{
		Name:        string(f.Source()),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Source circuit breaker changed state",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrSourceSkipped)
		},
	}
	g.cb = gobreaker.NewCircuitBreaker(st)
	return g
}

// Source implements Fetcher.
func (g *Guarded) Source() domain.Source { return g.inner.Source() }

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

// Fetch implements Fetcher.
func (g *Guarded) Fetch(ctx context.Context, sc domain.SearchContext) ([]domain.RawResult, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Fetch(ctx, sc)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSourceSkipped):
			return nil, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%s: circuit %v: %w", g.Source(), err, domain.ErrSourceFailed)
		case errors.Is(err, domain.ErrSourceFailed):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", domain.ErrSourceFailed, err)
		}
	}
	results, _ := out.([]domain.RawResult)
	return results, nil
}

// NewHTTPClient returns a client whose dial is bounded by connect and whole
// request by total.
func NewHTTPClient(connect, total time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect
	return &http.Client{Transport: transport, Timeout: total}
}

// getJSON performs req and decodes a 200 JSON body into out.
func getJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
