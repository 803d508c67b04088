// Package cache provides the Redis-backed read-through cache used by the chat
// pipeline.
//
// The cache is strictly best-effort: every operation absorbs Redis errors,
// logs them, and reports a miss (or silently skips the write). Callers treat
// a miss and an unavailable cache identically, per the transient-infrastructure
// error policy.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Per-domain TTLs.
const (
	TTLUser             = 3600 * time.Second
	TTLSession          = 1800 * time.Second
	TTLSessionSummary   = 900 * time.Second
	TTLMessageHistory   = 300 * time.Second
	TTLAnalysis         = 300 * time.Second
	TTLToolSearch       = 300 * time.Second
	TTLAppRouting       = 300 * time.Second
	TTLConnectionStatus = 300 * time.Second
	TTLConversations    = 600 * time.Second
	TTLUserConnections  = 600 * time.Second
)

// Client is the subset of redis.Client operations the cache depends on.
// Defined on the consumer side so tests can substitute a fake.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Cache wraps a Redis client with best-effort semantics and hashed keys.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	rdb    Client
	logger *slog.Logger
}

// New creates a Cache around the given Redis client.
func New(rdb Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, logger: logger}
}

// Get returns the string value for key and whether it was present.
// Redis errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

// GetJSON unmarshals the cached value at key into dest.
// Returns false on miss, Redis error, or malformed payload; a malformed
// payload is deleted so the next read repopulates it.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	val, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.logger.Warn("cache entry corrupt, evicting", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value at key with the given TTL. Errors are logged and dropped.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// SetJSON marshals value and stores it at key with the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache marshal failed", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, string(data), ttl)
}

// Delete removes the given keys. Errors are logged and dropped.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// Ping reports whether the Redis backend is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
