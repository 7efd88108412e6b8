package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"authgrid.org/internal/obs"
)

const cachePrefix = "authz:perms:"

// Cache is a read-through store of resolved principal permission sets backed
// by Redis. Cache failures degrade to direct resolution, never to an error
// surfaced to the caller.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache wraps a Redis client. A zero ttl defaults to 30 seconds.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get loads a cached permission set.
func (c *Cache) Get(ctx context.Context, principalType, principalID, entityID string) ([]string, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(principalType, principalID, entityID)).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

// Set stores a resolved permission set with the configured TTL.
func (c *Cache) Set(ctx context.Context, principalType, principalID, entityID string, perms []string) {
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(principalType, principalID, entityID), raw, c.ttl).Err(); err != nil {
		obs.LogEvent("authz_cache_set_failed", map[string]any{"error": err.Error()})
	}
}

// Invalidate drops every cached permission set. Role and assignment changes
// can affect any principal through inheritance, so the whole prefix goes.
func (c *Cache) Invalidate(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, cachePrefix+"*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 256 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.rdb.Del(ctx, keys...).Err()
	}
	return nil
}

func cacheKey(principalType, principalID, entityID string) string {
	return cachePrefix + principalType + ":" + principalID + ":" + entityID
}
