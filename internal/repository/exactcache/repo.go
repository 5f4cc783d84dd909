// Package exactcache stores full search responses keyed by a hash of the
// normalized (query, location) pair.
package exactcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

// KeyPrefix namespaces exact cache entries in the store.
var KeyPrefix = domain.KeyPrefix + "search_results:"

// keyLength is the number of hex characters kept from the SHA-256 digest.
const keyLength = 32

// store is the consumer interface for the exact cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// Entry is a cached response with its bookkeeping.
type Entry struct {
	QueryHash string
	Location  string
	Intent    string
	Response  *domain.SearchResponse
	CreatedAt time.Time
	ExpiresAt time.Time
}

// envelope is the stored JSON form of an Entry.
type envelope struct {
	QueryHash   string          `json:"query_hash"`
	Location    string          `json:"location"`
	Intent      string          `json:"intent"`
	ResultsJSON json.RawMessage `json:"results_json"`
	CreatedAt   int64           `json:"created_at"`
	ExpiresAt   int64           `json:"expires_at"`
}

// Repo is the exact cache tier.
type Repo struct {
	store store
	ttl   time.Duration
	now   func() time.Time
}

// New creates an exact cache with the given entry lifetime.
func New(s store, ttl time.Duration) *Repo {
	return &Repo{store: s, ttl: ttl, now: time.Now}
}

// Key derives the cache key for a (query, location) pair. Case and
// surrounding whitespace of either part do not change the key.
func Key(query, location string) string {
	normalized := strings.ToLower(strings.TrimSpace(query)) + "|" + strings.ToLower(strings.TrimSpace(location))
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])[:keyLength]
}

// Get returns the live entry for (query, location) or domain.ErrCacheMiss.
// Store failures are returned wrapped so the caller can log them before
// treating them as a miss.
func (r *Repo) Get(ctx context.Context, query, location string) (*Entry, error) {
	hash := Key(query, location)
	data, err := r.store.Get(ctx, KeyPrefix+hash)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("get exact cache entry %s: %w", hash, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode exact cache entry %s: %w: %w", hash, domain.ErrCacheMiss, err)
	}
	expiresAt := time.Unix(env.ExpiresAt, 0)
	if !r.now().Before(expiresAt) {
		return nil, domain.ErrCacheMiss
	}

	var resp domain.SearchResponse
	if err := json.Unmarshal(env.ResultsJSON, &resp); err != nil {
		return nil, fmt.Errorf("decode exact cache payload %s: %w: %w", hash, domain.ErrCacheMiss, err)
	}

	return &Entry{
		QueryHash: env.QueryHash,
		Location:  env.Location,
		Intent:    env.Intent,
		Response:  &resp,
		CreatedAt: time.Unix(env.CreatedAt, 0),
		ExpiresAt: expiresAt,
	}, nil
}

// Put upserts the response for (query, location). Last writer wins.
func (r *Repo) Put(ctx context.Context, query, location string, resp *domain.SearchResponse) error {
	if resp == nil {
		return fmt.Errorf("exact cache put: nil response")
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode exact cache payload: %w", err)
	}

	now := r.now()
	hash := Key(query, location)
	data, err := json.Marshal(envelope{
		QueryHash:   hash,
		Location:    strings.TrimSpace(location),
		Intent:      strings.TrimSpace(query),
		ResultsJSON: payload,
		CreatedAt:   now.Unix(),
		ExpiresAt:   domain.ExpiresAtUnix(now, r.ttl),
	})
	if err != nil {
		return fmt.Errorf("encode exact cache entry: %w", err)
	}

	if err := r.store.SetWithTTL(ctx, KeyPrefix+hash, data, r.ttl); err != nil {
		return fmt.Errorf("put exact cache entry %s: %w", hash, err)
	}
	return nil
}

// Count returns the number of stored entries, or 0 when the store is unreachable.
func (r *Repo) Count(ctx context.Context) int {
	keys, err := r.store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return 0
	}
	return len(keys)
}

// Connected reports whether the store answers a ping.
func (r *Repo) Connected(ctx context.Context) bool {
	return r.store.Ping(ctx) == nil
}
