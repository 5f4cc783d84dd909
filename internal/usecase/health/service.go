// Package health reports dependency status and cache occupancy.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all checked dependencies are operational.
	Healthy Status = "healthy"
	// Degraded indicates at least one dependency failed its check.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// checkTimeout bounds each dependency probe.
const checkTimeout = 3 * time.Second

// CacheReport is the occupancy of each cache tier. Nil tiers are omitted.
type CacheReport struct {
	ExactEntries    *int            `json:"exact_entries,omitempty"`
	LocationEntries *int            `json:"location_entries,omitempty"`
	Semantic        *SemanticReport `json:"semantic,omitempty"`
}

// SemanticReport mirrors semcache.Stats.
type SemanticReport struct {
	TotalEntries   int  `json:"total_entries"`
	LiveEntries    int  `json:"live_entries"`
	ExpiredEntries int  `json:"expired_entries"`
	Connected      bool `json:"connected"`
}

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	Cache  CacheReport
}

// Caches groups the optional cache tiers reported alongside health.
type Caches struct {
	Exact    EntryCounter
	Location EntryCounter
	Semantic SemanticStatter
}

// Service runs the dependency probes behind GET /health.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	caches    Caches
	timeout   time.Duration
}

// New creates a Service. embedding and any cache tier can be nil.
func New(db DBPinger, embedding EmbeddingChecker, caches Caches) *Service {
	return &Service{db: db, embedding: embedding, caches: caches, timeout: checkTimeout}
}

type probe struct {
	name string
	run  func(context.Context) error
}

// Check probes every dependency in parallel, each under its own timeout.
// Any failed probe degrades the report.
func (s *Service) Check(ctx context.Context) Report {
	probes := []probe{{"database", s.db.Ping}}
	if s.embedding != nil {
		probes = append(probes, probe{"embedding", s.embedding.HealthCheck})
	}

	results := make([]CheckResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results[i] = CheckOK
			if p.run(pctx) != nil {
				results[i] = CheckError
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(probes))}
	for i, p := range probes {
		report.Checks[p.name] = results[i]
		if results[i] != CheckOK {
			report.Status = Degraded
		}
	}
	report.Cache = s.CacheStats(ctx)
	return report
}

// CacheStats collects the occupancy of every configured cache tier.
func (s *Service) CacheStats(ctx context.Context) CacheReport {
	var r CacheReport
	if s.caches.Exact != nil {
		n := s.caches.Exact.Count(ctx)
		r.ExactEntries = &n
	}
	if s.caches.Location != nil {
		n := s.caches.Location.Count(ctx)
		r.LocationEntries = &n
	}
	if s.caches.Semantic != nil {
		st := s.caches.Semantic.Statistics(ctx)
		r.Semantic = &SemanticReport{
			TotalEntries:   st.TotalEntries,
			LiveEntries:    st.LiveEntries,
			ExpiredEntries: st.ExpiredEntries,
			Connected:      st.Connected,
		}
	}
	return r
}
