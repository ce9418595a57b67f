// Package cache provides an optional Redis snapshot cache for computed
// reports. Reports are pure query results, so caching is a freshness/latency
// trade-off controlled entirely by the TTL; a nil cache disables it.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache stores JSON-encoded report snapshots with a TTL.
type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a cache over the given Redis client.
func New(rdb *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{rdb: rdb, ttl: ttl}
}

// Get unmarshals the cached snapshot for key into out, reporting whether a
// usable snapshot existed. Cache errors are treated as misses: the caller
// recomputes, it never fails a request.
func (c *ReportCache) Get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("report cache read failed", "key", key, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("report cache held invalid snapshot", "key", key, "err", err)
		return false
	}
	return true
}

// Set stores a snapshot. Failures are logged and ignored.
func (c *ReportCache) Set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("report cache marshal failed", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("report cache write failed", "key", key, "err", err)
	}
}
