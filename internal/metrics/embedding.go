// Package metrics holds the Prometheus collectors and the HTTP middleware
// that feeds them. Collectors are package globals registered once per
// process through the Register* functions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "underfoot"

// Outcomes for EmbeddingRequestsTotal.
const (
	EmbeddingOK                = "success"
	EmbeddingAPIError          = "api_error"
	EmbeddingEmptyResponse     = "empty_response"
	EmbeddingDimensionMismatch = "dimension_mismatch"
)

var (
	// EmbeddingRequestsTotal counts provider calls by outcome.
	EmbeddingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "requests_total",
		Help:      "Embedding provider calls by outcome.",
	}, []string{"provider", "model", "outcome"})

	// EmbeddingRequestDuration observes successful provider calls.
	EmbeddingRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "request_duration_seconds",
		Help:      "Latency of successful embedding calls.",
		Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
	}, []string{"provider", "model"})

	// EmbeddingTokensTotal accumulates billed tokens.
	EmbeddingTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "tokens_total",
		Help:      "Tokens billed by the embedding provider.",
	}, []string{"provider", "model"})

	// EmbeddingCacheTotal counts cached-embedder lookups: hit, miss, shared.
	EmbeddingCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "cache_lookups_total",
		Help:      "Embedding cache lookups by result.",
	}, []string{"result"})
)

var embeddingOnce sync.Once

// RegisterEmbeddingMetrics registers the embedding collectors. Repeat calls are no-ops.
func RegisterEmbeddingMetrics() {
	embeddingOnce.Do(func() {
		prometheus.MustRegister(EmbeddingRequestsTotal, EmbeddingRequestDuration, EmbeddingTokensTotal, EmbeddingCacheTotal)
	})
}
