// Package chi exposes the search, health and cache-admin HTTP surface.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	logpkg "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/logger"
	healthuc "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/usecase/health"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/version"
)

const (
	// maxBodyBytes caps the POST /search request body.
	maxBodyBytes = 64 << 10
	// cacheHeader reports whether a search was served from cache.
	cacheHeader = "X-Cache"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeValidationFailed    ErrorCode = "validation_failed"
	CodeUnparseableInput    ErrorCode = "unparseable_input"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	ChatInput string `json:"chat_input"`
	Force     bool   `json:"force"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       healthuc.Status                 `json:"status"`
	Timestamp    time.Time                       `json:"timestamp"`
	ElapsedMS    int64                           `json:"elapsed_ms"`
	Dependencies map[string]healthuc.CheckResult `json:"dependencies"`
	Cache        healthuc.CacheReport            `json:"cache"`
	Version      version.Info                    `json:"version"`
}

// Searcher runs one search orchestration.
type Searcher interface {
	Execute(ctx context.Context, query string, force bool) (*domain.SearchResponse, error)
}

// HealthReporter reports dependency health and cache occupancy.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
	CacheStats(ctx context.Context) healthuc.CacheReport
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	search        Searcher
	health        HealthReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, health HealthReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		search: search,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrUnparseableInput, http.StatusBadRequest, CodeUnparseableInput),
		sentinelHandler(domain.ErrUpstream, http.StatusBadGateway, CodeUpstreamUnavailable),
	}
	return s
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	resp, err := s.search.Execute(r.Context(), req.ChatInput, req.Force)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set(cacheHeader, string(resp.Debug.CacheStatus))
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:       report.Status,
		Timestamp:    start.UTC(),
		ElapsedMS:    time.Since(start).Milliseconds(),
		Dependencies: report.Checks,
		Cache:        report.Cache,
		Version:      version.Get(),
	})
}

// CacheStats handles GET /admin/cache/stats.
func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.CacheStats(r.Context()))
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrUnparseableInput,
		domain.ErrUpstream,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler reports the validation rule that rejected the query.
// Validation messages carry only the rule, never the input.
func validationHandler(w http.ResponseWriter, err error, _ string) bool {
	if !errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
	return true
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logpkg.FromContextOr(ctx, s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
