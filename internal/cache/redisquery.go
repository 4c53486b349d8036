// Package cache provides caching for the RAG pipeline: in-memory
// EmbeddingCache/QueryCache for single-process deployments, and
// RedisQueryCache for a cross-process advisory cache shared by multiple
// cmd/server replicas.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// RedisQueryCache caches RetrievalResult across processes. Unlike QueryCache
// it is advisory only: any Get/Set failure is logged and treated as a miss
// rather than surfaced to the caller, since a cold cache never changes
// retrieval correctness, only latency (§5, "caches are advisory, may be
// evicted freely").
type RedisQueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time check that RedisQueryCache implements service.QueryCacher.
var _ service.QueryCacher = (*RedisQueryCache)(nil)

// NewRedisQueryCache creates a RedisQueryCache from a redis:// URL.
func NewRedisQueryCache(redisURL string, ttl time.Duration) (*RedisQueryCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache.NewRedisQueryCache: parse %q: %w", redisURL, err)
	}
	return &RedisQueryCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Get implements service.QueryCacher.
func (c *RedisQueryCache) Get(ctx context.Context, key string) (*service.RetrievalResult, bool) {
	raw, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache.RedisQueryCache: get failed, treating as miss", "error", err)
		}
		return nil, false
	}

	var result service.RetrievalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Warn("cache.RedisQueryCache: corrupt cache entry, treating as miss", "error", err)
		return nil, false
	}
	return &result, true
}

// Set implements service.QueryCacher.
func (c *RedisQueryCache) Set(ctx context.Context, key string, result *service.RetrievalResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		slog.Warn("cache.RedisQueryCache: marshal failed, skipping cache write", "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKey(key), raw, c.ttl).Err(); err != nil {
		slog.Warn("cache.RedisQueryCache: set failed", "error", err)
	}
}

// Close releases the underlying Redis connection pool.
func (c *RedisQueryCache) Close() error {
	return c.client.Close()
}

func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("ragbox:retrieval:%x", sum)
}
