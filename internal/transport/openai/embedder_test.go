package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterLLMMetrics()
	os.Exit(m.Run())
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// embeddingResponse mirrors the OpenAI-compatible embedding response.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func embeddingServer(t *testing.T, vec []float32, tokens int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		resp := embeddingResponse{Object: "list", Model: "test-model"}
		if vec != nil {
			resp.Data = []embeddingItem{{Object: "embedding", Embedding: vec}}
		}
		resp.Usage.PromptTokens = tokens
		resp.Usage.TotalTokens = tokens

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestEmbedder(url string, dims int) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		Dimensions: dims,
		Provider:   "test",
		Logger:     zap.NewNop(),
	})
}

func TestEmbedder_Embed(t *testing.T) {
	srv, calls := embeddingServer(t, []float32{0.1, 0.2, 0.3, 0.4}, 42)
	ok := metrics.EmbeddingRequestsTotal.WithLabelValues("test", "test-model", metrics.EmbeddingOK)
	before := testutil.ToFloat64(ok)

	res, err := newTestEmbedder(srv.URL, 4).Embed(context.Background(), "  underground bars ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, res.Embedding)
	assert.Equal(t, 42, res.PromptTokens)
	assert.Equal(t, 42, res.TotalTokens)
	assert.EqualValues(t, 1, calls.Load())
	assert.InDelta(t, before+1, testutil.ToFloat64(ok), 0)
}

func TestEmbedder_BlankTextSkipsProvider(t *testing.T) {
	srv, calls := embeddingServer(t, []float32{1}, 1)

	_, err := newTestEmbedder(srv.URL, 0).Embed(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Zero(t, calls.Load())
}

func TestEmbedder_Failures(t *testing.T) {
	rateLimited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	t.Cleanup(rateLimited.Close)
	empty, _ := embeddingServer(t, nil, 0)
	narrow, _ := embeddingServer(t, []float32{0.1, 0.2}, 2)

	tests := []struct {
		name     string
		url      string
		dims     int
		outcome  string
		contains string
	}{
		{"rate limited", rateLimited.URL, 0, metrics.EmbeddingAPIError, "429"},
		{"empty data", empty.URL, 0, metrics.EmbeddingEmptyResponse, "empty embedding"},
		{"wrong width", narrow.URL, 1536, metrics.EmbeddingDimensionMismatch, "2 dimensions, want 1536"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := metrics.EmbeddingRequestsTotal.WithLabelValues("test", "test-model", tt.outcome)
			before := testutil.ToFloat64(counter)

			_, err := newTestEmbedder(tt.url, tt.dims).Embed(context.Background(), "hello")
			require.ErrorIs(t, err, domain.ErrEmbeddingProviderError)
			assert.Contains(t, err.Error(), tt.contains)
			assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0)
		})
	}
}

func TestEmbedder_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"test-model","object":"model"}]}`))
	}))
	defer srv.Close()

	if err := newTestEmbedder(srv.URL, 0).HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}

	srv.Close()
	if err := newTestEmbedder(srv.URL, 0).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail against a closed server")
	}
}

func TestExtractDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"model not found"}`, "model not found"},
		{`{"error":{"message":"bad key"}}`, "bad key"},
		{`not json`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		if got := extractDetail([]byte(tt.body)); got != tt.want {
			t.Errorf("extractDetail(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
