package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Chat-completion metrics for the query parser and response composer.
var (
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completion requests by operation and status",
		},
		[]string{"operation", "status"}, // operation: parse/compose
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Chat completion duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

var registerLLMOnce sync.Once

// RegisterLLMMetrics registers the chat-completion metrics. Safe to call repeatedly.
func RegisterLLMMetrics() {
	registerLLMOnce.Do(func() {
		prometheus.MustRegister(LLMRequestsTotal)
		prometheus.MustRegister(LLMRequestDuration)
	})
}
