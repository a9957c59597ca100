// Package cache keeps merged search responses in Redis. Keys are derived
// from the versions of the queried indexes so a reload never serves stale
// results, and every key is tagged with its index ids so a reload can drop
// them eagerly.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgedb/website-search/internal/searcher/multi"
	"github.com/edgedb/website-search/pkg/metrics"
	pkgredis "github.com/edgedb/website-search/pkg/redis"
)

const keyPrefix = "search:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	InvalidateTag(ctx context.Context, tag string) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Scope names the index versions a query ran against.
type Scope struct {
	IDs      []string
	Versions []string
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, scope Scope, query string, limit int) (*multi.Response, bool) {
	key := buildKey(scope, query, limit)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp multi.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &resp, true
}

func (c *QueryCache) Set(ctx context.Context, scope Scope, query string, limit int, resp *multi.Response) {
	key := buildKey(scope, query, limit)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.SetTagged(ctx, key, data, c.ttl, scope.IDs...); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response or computes, stores and returns
// it. Concurrent misses for the same key compute once. The boolean reports
// a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	scope Scope,
	query string,
	limit int,
	computeFn func() (*multi.Response, error),
) (*multi.Response, bool, error) {
	if resp, ok := c.Get(ctx, scope, query, limit); ok {
		return resp, true, nil
	}
	key := buildKey(scope, query, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, scope, query, limit, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*multi.Response), false, nil
}

// InvalidateIndex drops every cached response that involved id.
func (c *QueryCache) InvalidateIndex(ctx context.Context, id string) error {
	deleted, err := c.store.InvalidateTag(ctx, id)
	if err != nil {
		return fmt.Errorf("invalidating cache of %s: %w", id, err)
	}
	c.logger.Info("cache invalidate", "index", id, "keys_deleted", deleted)
	return nil
}

// Flush drops every cached response, returning how many were removed.
// Tag sets are left to expire.
func (c *QueryCache) Flush(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("flushing search cache: %w", err)
	}
	c.logger.Info("cache flushed", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey hashes the raw query: whitespace decides whether the last word
// is still being typed, so queries are not normalized.
func buildKey(scope Scope, query string, limit int) string {
	raw := fmt.Sprintf("%s|%s|limit=%d|%s",
		strings.Join(scope.IDs, ","), strings.Join(scope.Versions, ","), limit, query)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
