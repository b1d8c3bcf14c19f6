package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "entitlement:"

// EntitlementCache is a short-TTL Redis cache in front of the purchase store.
// It caches the yes/no access decision per (user, rule); entries are dropped
// whenever an entitlement is minted or revoked, so a stale positive lives at
// most one TTL.
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEntitlementCache creates a new Redis-backed entitlement cache.
func NewEntitlementCache(client *redis.Client, ttl time.Duration) *EntitlementCache {
	return &EntitlementCache{
		client: client,
		ttl:    ttl,
	}
}

func key(userID, ruleID string) string {
	return keyPrefix + userID + ":" + ruleID
}

// Get returns the cached access decision. The second return value reports
// whether the cache held an entry at all.
func (c *EntitlementCache) Get(ctx context.Context, userID, ruleID string) (bool, bool, error) {
	val, err := c.client.Get(ctx, key(userID, ruleID)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, false, nil
		}
		return false, false, fmt.Errorf("redis get entitlement: %w", err)
	}

	return val == "1", true, nil
}

// Set caches an access decision with the configured TTL.
func (c *EntitlementCache) Set(ctx context.Context, userID, ruleID string, hasAccess bool) error {
	val := "0"
	if hasAccess {
		val = "1"
	}

	if err := c.client.Set(ctx, key(userID, ruleID), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set entitlement: %w", err)
	}

	return nil
}

// Invalidate drops the cached decision for a (user, rule) pair. Called when
// a purchase is minted or revoked.
func (c *EntitlementCache) Invalidate(ctx context.Context, userID, ruleID string) error {
	if err := c.client.Del(ctx, key(userID, ruleID)).Err(); err != nil {
		return fmt.Errorf("redis del entitlement: %w", err)
	}

	return nil
}
