// Package locationcache memoizes geocoding results per raw location text.
package locationcache

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

// KeyPrefix namespaces location cache entries in the store.
var KeyPrefix = domain.KeyPrefix + "location:"

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

type record struct {
	RawInput  string          `json:"raw_input"`
	Location  domain.Location `json:"location"`
	ExpiresAt int64           `json:"expires_at"`
}

// Repo is the location normalization cache.
type Repo struct {
	store store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a location cache with the given entry lifetime.
func New(s store, ttl time.Duration) *Repo {
	return &Repo{store: s, ttl: ttl, now: time.Now}
}

// normalize is the lookup form of a raw location.
func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func key(raw string) string {
	h := sha256.Sum256([]byte(normalize(raw)))
	return KeyPrefix + hex.EncodeToString(h[:16])
}

// Get returns the cached location for raw text or domain.ErrCacheMiss.
func (r *Repo) Get(ctx context.Context, raw string) (domain.Location, error) {
	data, err := r.store.Get(ctx, key(raw))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Location{}, domain.ErrCacheMiss
		}
		return domain.Location{}, fmt.Errorf("get location cache: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Location{}, fmt.Errorf("decode location cache: %w: %w", domain.ErrCacheMiss, err)
	}
	if !r.now().Before(time.Unix(rec.ExpiresAt, 0)) {
		return domain.Location{}, domain.ErrCacheMiss
	}
	return rec.Location, nil
}

// Put upserts the location for raw text.
func (r *Repo) Put(ctx context.Context, raw string, loc domain.Location) error {
	data, err := json.Marshal(record{
		RawInput:  normalize(raw),
		Location:  loc,
		ExpiresAt: domain.ExpiresAtUnix(r.now(), r.ttl),
	})
	if err != nil {
		return fmt.Errorf("encode location cache: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, key(raw), data, r.ttl); err != nil {
		return fmt.Errorf("put location cache: %w", err)
	}
	return nil
}

// Count returns the number of cached locations, 0 when the store is unreachable.
func (r *Repo) Count(ctx context.Context) int {
	keys, err := r.store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return 0
	}
	return len(keys)
}
