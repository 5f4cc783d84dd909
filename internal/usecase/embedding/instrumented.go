// Package embedding decorates the embedding provider with a per-call
// deadline and request-scoped logging.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	logpkg "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/logger"
)

// Config describes the wrapped provider.
type Config struct {
	Provider string
	Model    string
	// Timeout bounds one call. Zero keeps the caller's deadline.
	Timeout time.Duration
}

// Instrumented wraps a domain.Embedder. Request counters and token totals
// are recorded by the transport; this layer logs outcomes.
type Instrumented struct {
	inner  domain.Embedder
	cfg    Config
	logger *zap.Logger
}

// NewInstrumented wraps inner.
func NewInstrumented(inner domain.Embedder, cfg Config, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{inner: inner, cfg: cfg, logger: logger}
}

// Embed calls the provider under the configured deadline.
func (e *Instrumented) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	log := logpkg.FromContextOr(ctx, e.logger).With(
		zap.String("provider", e.cfg.Provider),
		zap.String("model", e.cfg.Model),
	)

	start := time.Now()
	res, err := e.inner.Embed(ctx, text)
	elapsed := time.Since(start)

	if err != nil {
		log.Error("Embedding request failed",
			zap.String("error_kind", errorKind(err)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	log.Debug("Embedding request completed",
		zap.Duration("duration", elapsed),
		zap.Int("dimensions", len(res.Embedding)),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		return "provider"
	}
	return "unknown"
}
