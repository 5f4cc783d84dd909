// Package db defines the storage contract the cache repositories are built on.
// Concrete backends live in db/redis (Redis Stack or Valkey with the search
// module) and db/memory (single-process, used for local runs and tests).
package db

import (
	"context"
	"time"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/search/filter"
)

// Store is everything a backend provides. Repositories depend on the
// narrower interfaces below.
//
//nolint:interfacebloat // composition root only
type Store interface {
	Pinger
	HashStore
	KVStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger is the liveness probe used by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashStore backs the semantic cache entries and their hit counters.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore backs the exact, location and embedding caches.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// IndexManager creates and probes FT indexes.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher runs KNN and count queries over an FT index.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, index string, filters filter.Expression) (int, error)
}
