package health

import (
	"context"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/repository/semcache"
)

// DBPinger checks cache store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// EntryCounter counts live entries of a key-value cache tier.
type EntryCounter interface {
	Count(ctx context.Context) int
}

// SemanticStatter reports semantic cache statistics.
type SemanticStatter interface {
	Statistics(ctx context.Context) semcache.Stats
}
