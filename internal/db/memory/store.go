// Package memory implements db.Store in process. It backs the "memory"
// driver for local runs and the end-to-end orchestrator tests. KNN search is
// brute force over every hash under the index prefixes.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/search/filter"
)

var _ db.Store = (*Store)(nil)

type entry struct {
	value     []byte
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for key expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a mutex-guarded map of keys to strings or hashes.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	indexes map[string]*db.IndexDefinition
	now     func() time.Time
	closed  bool
}

// NewStore creates an empty in-process store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		indexes: make(map[string]*db.IndexDefinition),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping fails only after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

// Close marks the store closed. Data is kept.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// WaitForReady returns immediately: the store is ready once constructed.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

// live returns the entry for key, evicting it when expired. Caller holds the write lock.
func (s *Store) live(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// Get returns the string value at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.value == nil {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// SetWithTTL writes a string value. A non-positive ttl stores without expiry.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := make([]byte, len(value))
	copy(v, value)
	e := &entry{value: v}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Del removes a key of any type. Missing keys are not an error.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// HSet merges fields into the hash at key, creating it when absent.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		e = &entry{hash: make(map[string]string, len(fields))}
		s.entries[key] = e
	}
	if e.hash == nil {
		return &db.Error{Op: db.OpHSet, Err: fmt.Errorf("WRONGTYPE key %q holds a string", key)}
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

// HGetAll returns a copy of the hash at key.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.hash == nil || len(e.hash) == 0 {
		return nil, db.ErrKeyNotFound
	}
	return copyFields(e.hash), nil
}

// HIncrBy increments an integer hash field, creating hash and field as needed.
func (s *Store) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		e = &entry{hash: make(map[string]string)}
		s.entries[key] = e
	}
	if e.hash == nil {
		return 0, &db.Error{Op: db.OpHIncrBy, Err: fmt.Errorf("WRONGTYPE key %q holds a string", key)}
	}
	var cur int64
	if raw, ok := e.hash[field]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, &db.Error{Op: db.OpHIncrBy, Err: fmt.Errorf("hash value is not an integer")}
		}
		cur = v
	}
	cur += delta
	e.hash[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return db.ErrKeyNotFound
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

// Scan returns live keys matching a glob pattern, sorted.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// CreateIndex registers an index definition.
func (s *Store) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	s.indexes[def.Name] = def
	return nil
}

// IndexExists reports whether the index was created.
func (s *Store) IndexExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok, nil
}

// indexed returns copies of live hashes under the index prefixes that satisfy filters.
func (s *Store) indexed(name string, filters filter.Expression) (*db.IndexDefinition, map[string]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.indexes[name]
	if !ok {
		return nil, nil, db.ErrIndexNotFound
	}
	now := s.now()
	docs := make(map[string]map[string]string)
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		if e.hash == nil || !hasAnyPrefix(k, def.Prefixes) {
			continue
		}
		if !filters.Matches(e.hash) {
			continue
		}
		docs[k] = copyFields(e.hash)
	}
	return def, docs, nil
}

// SearchKNN ranks indexed hashes by cosine similarity to q.Vector.
// Hashes without a decodable vector of the right length are skipped.
func (s *Store) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	_, docs, err := s.indexed(q.IndexName, q.Filters)
	if err != nil {
		return nil, err
	}

	field := q.Field()
	entries := make([]db.SearchEntry, 0, len(docs))
	for key, fields := range docs {
		vec, err := db.DecodeVector([]byte(fields[field]))
		if err != nil || len(vec) != len(q.Vector) {
			continue
		}
		sim := domain.CosineSimilarity(q.Vector, vec)
		if sim < 0 {
			sim = 0
		}
		entries = append(entries, db.SearchEntry{Key: key, Score: sim, Fields: project(fields, q.ReturnFields)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Key < entries[j].Key
	})

	total := len(entries)
	if q.K > 0 && len(entries) > q.K {
		entries = entries[:q.K]
	}
	return &db.SearchResult{Total: total, Entries: entries}, nil
}

// SearchCount counts indexed hashes matching filters.
func (s *Store) SearchCount(_ context.Context, index string, filters filter.Expression) (int, error) {
	_, docs, err := s.indexed(index, filters)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func hasAnyPrefix(key string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func project(fields map[string]string, keep []string) map[string]string {
	if len(keep) == 0 {
		return fields
	}
	out := make(map[string]string, len(keep))
	for _, k := range keep {
		if v, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

func copyFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
