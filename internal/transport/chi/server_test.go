package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	healthuc "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/health"
)

type fakeSearcher struct {
	resp      *domain.SearchResponse
	err       error
	gotQuery  string
	gotForce  bool
	panicWith any
}

func (f *fakeSearcher) Execute(_ context.Context, query string, force bool) (*domain.SearchResponse, error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.gotQuery, f.gotForce = query, force
	return f.resp, f.err
}

type fakeHealth struct {
	report healthuc.Report
}

func (f *fakeHealth) Check(context.Context) healthuc.Report { return f.report }

func (f *fakeHealth) CacheStats(context.Context) healthuc.CacheReport { return f.report.Cache }

func newTestRouter(t *testing.T, s Searcher, h HealthReporter, keys []string) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewRouter(NewServer(s, h, zap.New(core)), keys), logs
}

func postSearch(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

func TestSearch_OK(t *testing.T) {
	fs := &fakeSearcher{resp: &domain.SearchResponse{
		UserIntent:   "hidden gems",
		UserLocation: "Pikeville, Kentucky, United States",
		Response:     "Pikeville reveals 3 intriguing spots.",
		Places:       []domain.Place{{Name: "Old Mill", Source: domain.SourceWebSearch, Score: 0.8}},
		Debug:        domain.Debug{RequestID: "search_abc", CacheStatus: domain.CacheMiss},
	}}
	h, logs := newTestRouter(t, fs, &fakeHealth{}, nil)

	rr := postSearch(h, `{"chat_input":"hidden gems in Pikeville KY","force":true}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hidden gems in Pikeville KY", fs.gotQuery)
	assert.True(t, fs.gotForce)
	assert.Equal(t, "miss", rr.Header().Get("X-Cache"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var got domain.SearchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "hidden gems", got.UserIntent)
	require.Len(t, got.Places, 1)
	assert.Equal(t, "Old Mill", got.Places[0].Name)
	assert.Equal(t, domain.CacheMiss, got.Debug.CacheStatus)

	lines := logs.FilterMessage("http_request").All()
	require.Len(t, lines, 1)
	assert.Equal(t, "miss", lines[0].ContextMap()["cache"])
	assert.EqualValues(t, http.StatusOK, lines[0].ContextMap()["status"])
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
		wantMsg    string
	}{
		{
			name:       "validation",
			err:        fmt.Errorf("query must be at least 3 characters: %w", domain.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidationFailed,
			wantMsg:    "query must be at least 3 characters: invalid input",
		},
		{
			name:       "unparseable",
			err:        fmt.Errorf("decode reply: bad: %w", domain.ErrUnparseableInput),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeUnparseableInput,
			wantMsg:    "unparseable input",
		},
		{
			name:       "upstream",
			err:        fmt.Errorf("parse: status 500 from https://api.example.com?key=sk-1: %w", domain.ErrUpstream),
			wantStatus: http.StatusBadGateway,
			wantCode:   CodeUpstreamUnavailable,
			wantMsg:    "upstream unavailable",
		},
		{
			name:       "unknown",
			err:        errors.New("redis: connection pool exhausted"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternalError,
			wantMsg:    "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, &fakeSearcher{err: tt.err}, &fakeHealth{}, nil)

			rr := postSearch(h, `{"chat_input":"anything at all"}`)

			require.Equal(t, tt.wantStatus, rr.Code)
			e := decodeError(t, rr)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantMsg, e.Message)
		})
	}
}

func TestSearch_BadBody(t *testing.T) {
	fs := &fakeSearcher{}
	h, _ := newTestRouter(t, fs, &fakeHealth{}, nil)

	for _, body := range []string{`{"chat_input":`, `not json`, `{"chat_input": 42}`} {
		rr := postSearch(h, body)
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, CodeBadRequest, decodeError(t, rr).Code)
	}
	assert.Empty(t, fs.gotQuery)
}

func TestSearch_OversizedBody(t *testing.T) {
	h, _ := newTestRouter(t, &fakeSearcher{}, &fakeHealth{}, nil)

	rr := postSearch(h, `{"chat_input":"`+strings.Repeat("a", maxBodyBytes)+`"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearch_PanicRecovered(t *testing.T) {
	h, logs := newTestRouter(t, &fakeSearcher{panicWith: "boom"}, &fakeHealth{}, nil)

	rr := postSearch(h, `{"chat_input":"hidden gems in Austin"}`)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, CodeInternalError, e.Code)
	assert.NotContains(t, e.Message, "boom")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestHealthCheck(t *testing.T) {
	exact := 4
	tests := []struct {
		name       string
		report     healthuc.Report
		wantStatus int
	}{
		{
			name: "healthy",
			report: healthuc.Report{
				Status: healthuc.Healthy,
				Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckOK, "embedding": healthuc.CheckOK},
				Cache:  healthuc.CacheReport{ExactEntries: &exact},
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "degraded",
			report: healthuc.Report{
				Status: healthuc.Degraded,
				Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckError},
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, &fakeSearcher{}, &fakeHealth{report: tt.report}, []string{"secret"})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

			require.Equal(t, tt.wantStatus, rr.Code)
			var got HealthResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.report.Status, got.Status)
			assert.Equal(t, tt.report.Checks, got.Dependencies)
			assert.False(t, got.Timestamp.IsZero())
			assert.NotEmpty(t, got.Version.Version)
		})
	}
}

func TestCacheStats_RequiresAdminKey(t *testing.T) {
	exact, location := 7, 2
	fh := &fakeHealth{report: healthuc.Report{Cache: healthuc.CacheReport{
		ExactEntries:    &exact,
		LocationEntries: &location,
		Semantic:        &healthuc.SemanticReport{TotalEntries: 3, LiveEntries: 2, ExpiredEntries: 1, Connected: true},
	}}}
	h, _ := newTestRouter(t, &fakeSearcher{}, fh, []string{"secret"})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/cache/stats", http.NoBody))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/cache/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got healthuc.CacheReport
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.NotNil(t, got.ExactEntries)
	assert.Equal(t, 7, *got.ExactEntries)
	require.NotNil(t, got.Semantic)
	assert.Equal(t, 2, got.Semantic.LiveEntries)
}

func TestSearch_NotGuardedByAdminKeys(t *testing.T) {
	fs := &fakeSearcher{resp: &domain.SearchResponse{Debug: domain.Debug{CacheStatus: domain.CacheHit}}}
	h, _ := newTestRouter(t, fs, &fakeHealth{}, []string{"secret"})

	rr := postSearch(h, `{"chat_input":"caves near Austin"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hit", rr.Header().Get("X-Cache"))
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestRouter(t, &fakeSearcher{}, &fakeHealth{}, []string{"secret"})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRoute_JSON404(t *testing.T) {
	h, _ := newTestRouter(t, &fakeSearcher{}, &fakeHealth{}, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/collections", http.NoBody))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestSearch_MethodNotAllowed(t *testing.T) {
	h, _ := newTestRouter(t, &fakeSearcher{}, &fakeHealth{}, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search", http.NoBody))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
