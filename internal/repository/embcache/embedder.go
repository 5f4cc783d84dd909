// Package embcache memoizes embeddings in the KV store so the provider is
// called once per distinct intent, across requests and across replicas.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "emb_cache:"

// defaultFlightTimeout bounds a provider call when Config.Timeout is unset.
const defaultFlightTimeout = 30 * time.Second

// Outcome labels for the lookups counter.
const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultShared = "shared"
)

type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config tunes the cache.
type Config struct {
	// TTL bounds how long a stored vector lives.
	TTL time.Duration
	// Lookups counts outcomes by a "result" label. Optional.
	Lookups *prometheus.CounterVec
	// Timeout bounds one shared provider call. The call is detached from
	// the caller that started it, so this is its only deadline.
	Timeout time.Duration
}

// Embedder is a domain.Embedder that consults the store before the
// provider. Concurrent misses for the same text share one provider call.
type Embedder struct {
	inner  domain.Embedder
	store  kvStore
	cfg    Config
	group  singleflight.Group
	logger *zap.Logger
}

// New wraps inner with a store-backed cache.
func New(inner domain.Embedder, s kvStore, cfg Config, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFlightTimeout
	}
	return &Embedder{inner: inner, store: s, cfg: cfg, logger: logger}
}

// Embed returns the stored vector for text when present. A hit reports zero
// tokens since nothing was billed. Store failures degrade to a miss.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := Key(text)
	if vec, ok := e.lookup(ctx, key); ok {
		e.count(resultHit)
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	// The flight outlives any single caller: a caller that gives up leaves
	// it running for the others. leader is written only by the caller that
	// started it, before the result is delivered.
	var leader bool
	ch := e.group.DoChan(key, func() (any, error) {
		leader = true
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
		defer cancel()
		res, err := e.inner.Embed(fctx, text)
		if err != nil {
			return nil, err
		}
		e.save(fctx, key, res.Embedding)
		return res, nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", ctx.Err())
	}
	if leader {
		e.count(resultMiss)
	} else {
		e.count(resultShared)
	}
	if r.Err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", r.Err)
	}

	res := r.Val.(domain.EmbeddingResult) //nolint:forcetypeassert // only this func fills the group
	if !leader {
		res.PromptTokens, res.TotalTokens = 0, 0
	}
	return res, nil
}

// Key derives the store key for text. Texts differing only in case or
// surrounding whitespace share a key.
func Key(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (e *Embedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := e.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false
	case err != nil:
		e.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	case len(data) == 0:
		return nil, false
	}

	vec, err := db.DecodeVector(data)
	if err != nil {
		e.logger.Warn("Discarding corrupt cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (e *Embedder) save(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := e.store.SetWithTTL(ctx, key, db.EncodeVector(vec), e.cfg.TTL); err != nil {
		e.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (e *Embedder) count(result string) {
	if e.cfg.Lookups != nil {
		e.cfg.Lookups.WithLabelValues(result).Inc()
	}
}
