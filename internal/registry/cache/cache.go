// Package cache caches formatted registration content by checksum.
// Checksummed content is immutable, so entries never need invalidation.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "addrreg:registration:"

// ChecksumCache stores rendered registrations keyed by content checksum.
// The zero-value (nil client) cache is a no-op, so callers never need to
// branch on whether redis is configured.
type ChecksumCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// New creates a cache over the given redis client. A nil client disables
// caching.
func New(client *redis.Client, ttl time.Duration, log *slog.Logger) *ChecksumCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ChecksumCache{client: client, ttl: ttl, log: log}
}

// Get returns the cached rendering for checksum, or ok=false on a miss.
// Cache errors degrade to misses.
func (c *ChecksumCache) Get(ctx context.Context, checksum string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, keyPrefix+checksum).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("checksum cache read failed", "error", err)
		return nil, false
	}
	return data, true
}

// Put stores a rendering. Failures are logged and ignored; the cache is
// an optimization, not a source of truth.
func (c *ChecksumCache) Put(ctx context.Context, checksum string, data []byte) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+checksum, data, c.ttl).Err(); err != nil {
		c.log.Warn("checksum cache write failed", "error", err)
	}
}
