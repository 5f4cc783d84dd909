package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
)

type fetchOutcome struct {
	items []domain.RawResult
	stat  domain.SourceStat
}

// fanOut queries every fetcher concurrently and waits for all of them.
// A failing source contributes no items; it never cancels the others.
// Items are concatenated in fetcher order.
func (s *Service) fanOut(
	ctx context.Context, sc domain.SearchContext, log *zap.Logger,
) ([]domain.RawResult, map[domain.Source]domain.SourceStat) {
	outcomes := make([]fetchOutcome, len(s.fetchers))

	var g errgroup.Group
	for i, f := range s.fetchers {
		g.Go(func() error {
			outcomes[i] = s.fetchOne(ctx, f, sc, log)
			return nil
		})
	}
	_ = g.Wait()

	var items []domain.RawResult
	stats := make(map[domain.Source]domain.SourceStat, len(s.fetchers))
	for i, f := range s.fetchers {
		items = append(items, outcomes[i].items...)
		stats[f.Source()] = outcomes[i].stat
	}
	return items, stats
}

func (s *Service) fetchOne(
	ctx context.Context, f Fetcher, sc domain.SearchContext, log *zap.Logger,
) (out fetchOutcome) {
	src := f.Source()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = fetchOutcome{stat: domain.SourceStat{
				Status:     domain.SourceFailedStatus,
				Error:      fmt.Sprintf("panic: %v", r),
				DurationMS: time.Since(start).Milliseconds(),
			}}
			metrics.SourceFetchTotal.WithLabelValues(string(src), string(domain.SourceFailedStatus)).Inc()
			log.Error("source.failed", zap.String("source", string(src)), zap.Any("panic", r))
		}
	}()

	items, err := f.Fetch(ctx, sc)
	elapsed := time.Since(start)
	metrics.SourceFetchDuration.WithLabelValues(string(src)).Observe(elapsed.Seconds())

	stat := domain.SourceStat{DurationMS: elapsed.Milliseconds()}
	switch {
	case err == nil:
		stat.Status = domain.SourceSuccess
		stat.Count = len(items)
	case errors.Is(err, domain.ErrSourceSkipped):
		stat.Status = domain.SourceSkipped
		items = nil
		log.Debug("source.skipped", zap.String("source", string(src)), zap.Error(err))
	default:
		stat.Status = domain.SourceFailedStatus
		stat.Error = summarize(err)
		items = nil
		log.Warn("source.failed",
			zap.String("source", string(src)),
			zap.String("error", stat.Error),
			zap.Duration("duration", elapsed),
		)
	}
	metrics.SourceFetchTotal.WithLabelValues(string(src), string(stat.Status)).Inc()
	return fetchOutcome{items: items, stat: stat}
}

// summarize renders a fetch error for the response without request URLs,
// which may carry API keys.
func summarize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return "timeout"
		}
		return "request failed: " + uerr.Err.Error()
	}
	return err.Error()
}
