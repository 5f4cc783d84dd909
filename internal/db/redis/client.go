// Package redis implements db.Store on rueidis for Redis Stack and for
// Valkey with the valkey-search module.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
)

var _ db.Store = (*Store)(nil)

// Flavor selects server-specific query fallbacks.
type Flavor string

const (
	// FlavorRedis targets Redis 8+ or Redis Stack.
	FlavorRedis Flavor = "redis"
	// FlavorValkey targets Valkey with valkey-search, which rejects
	// FT.SEARCH without a KNN clause.
	FlavorValkey Flavor = "valkey"
)

const readyPollInterval = 100 * time.Millisecond

// Config holds connection parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Flavor   Flavor
}

func (c Config) clientOption() rueidis.ClientOption {
	return rueidis.ClientOption{
		InitAddress:  c.Addrs,
		Username:     c.Username,
		Password:     c.Password,
		SelectDB:     c.DB,
		DisableCache: true,
		// FT.SEARCH replies are parsed as RESP2 arrays.
		AlwaysRESP2: true,
	}
}

// Store is a db.Store backed by a rueidis client.
type Store struct {
	client rueidis.Client
	flavor Flavor
}

// NewStore dials the configured addresses.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: at least one address is required")
	}
	client, err := rueidis.NewClient(cfg.clientOption())
	if err != nil {
		return nil, fmt.Errorf("redis: create client: %w", err)
	}
	return newStore(client, cfg.Flavor), nil
}

func newStore(client rueidis.Client, flavor Flavor) *Store {
	if flavor == "" {
		flavor = FlavorRedis
	}
	return &Store{client: client, flavor: flavor}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady pings until the server answers or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis not ready after %s: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// isRedisErr reports whether err is a server error whose text contains any
// of the fragments, compared case-insensitively.
func isRedisErr(err error, fragments ...string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	msg := strings.ToLower(re.Error())
	for _, f := range fragments {
		if strings.Contains(msg, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// isMissingIndex matches the "no such index" replies of both servers.
func isMissingIndex(err error) bool {
	return isRedisErr(err, "unknown index name", "not found", "no such index")
}
