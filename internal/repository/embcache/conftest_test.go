package embcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

type fakeEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  atomic.Int32
	// gate, when set, blocks every call until closed.
	gate chan struct{}
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeKV struct {
	mu    sync.Mutex
	getFn func(key string) ([]byte, error)
	setFn func(key string, value []byte, ttl time.Duration) error
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getFn != nil {
		return f.getFn(key)
	}
	return nil, db.ErrKeyNotFound
}

func (f *fakeKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setFn != nil {
		return f.setFn(key, value, ttl)
	}
	return nil
}

func newTestEmbedder(t *testing.T, inner *fakeEmbedder) (*Embedder, *fakeKV) {
	t.Helper()
	kv := &fakeKV{}
	return New(inner, kv, Config{TTL: time.Hour}, zap.NewNop()), kv
}
