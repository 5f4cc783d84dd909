package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/semcache"
)

// writer runs cache writes off the request path on a bounded pool.
// Failures are logged and counted, never returned. Submission never waits:
// when every worker is busy the write is dropped.
type writer struct {
	pool    *ants.Pool
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

func newWriter(size int, timeout time.Duration, logger *zap.Logger) (*writer, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &writer{pool: pool, timeout: timeout, logger: logger}, nil
}

// submit schedules fn with its own deadline, detached from the request context.
func (w *writer) submit(tier string, fn func(ctx context.Context) error) {
	w.wg.Add(1)
	task := func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		err := fn(ctx)
		switch {
		case err == nil:
			metrics.CacheWritesTotal.WithLabelValues(tier, "success").Inc()
		case errors.Is(err, semcache.ErrNotStorable):
			metrics.CacheWritesTotal.WithLabelValues(tier, "skipped").Inc()
		default:
			metrics.CacheWritesTotal.WithLabelValues(tier, "error").Inc()
			w.logger.Warn("cache.write_failed", zap.String("tier", tier), zap.Error(err))
		}
	}
	if err := w.pool.Submit(task); err != nil {
		w.wg.Done()
		result := "error"
		if errors.Is(err, ants.ErrPoolOverload) {
			result = "dropped"
		}
		metrics.CacheWritesTotal.WithLabelValues(tier, result).Inc()
		w.logger.Warn("cache.write_dropped", zap.String("tier", tier), zap.Error(err))
	}
}

func (w *writer) flush() { w.wg.Wait() }

func (w *writer) close() {
	w.flush()
	w.pool.Release()
}
