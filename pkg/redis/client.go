// Package redis provides a thin wrapper around go-redis/v9 with connection
// pooling, cache get/set operations, tag-based invalidation and
// pattern-based key flushing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgedb/website-search/pkg/config"
)

// tagPrefix namespaces the sets that track which keys carry a tag.
const tagPrefix = "tag:"

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the value for the given key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

// Set stores a value with the given TTL.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetTagged stores a value and records key under every tag so that
// InvalidateTag can remove it later. Tag sets live as long as their longest
// lived key.
func (c *Client) SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, tagPrefix+tag, key)
			pipe.Expire(ctx, tagPrefix+tag, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting tagged key %s: %w", key, err)
	}
	return nil
}

// InvalidateTag deletes every key recorded under tag, returning how many
// were removed.
func (c *Client) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	keys, err := c.rdb.SMembers(ctx, tagPrefix+tag).Result()
	if err != nil {
		return 0, fmt.Errorf("reading tag %s: %w", tag, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("deleting keys of tag %s: %w", tag, err)
	}
	if err := c.rdb.Del(ctx, tagPrefix+tag).Err(); err != nil {
		return deleted, fmt.Errorf("deleting tag %s: %w", tag, err)
	}
	return deleted, nil
}

// FlushByPattern scans for keys matching the glob pattern and deletes them,
// returning the number of keys removed.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("deleting key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}
	return deleted, nil
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
