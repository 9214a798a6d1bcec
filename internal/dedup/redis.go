// Package dedup guards against processing a redelivered order event twice.
package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "orderms:order-created:"

// RedisGuard records order ids that were saved, so a redelivered event can
// be skipped before it reaches the store. A mark expires after the TTL.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard returns a guard backed by client.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// Seen reports whether orderID was marked as saved.
func (g *RedisGuard) Seen(ctx context.Context, orderID int64) (bool, error) {
	n, err := g.client.Exists(ctx, key(orderID)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup order %d: %w", orderID, err)
	}
	return n > 0, nil
}

// Mark records that orderID is stored. Call it only after the save succeeded.
func (g *RedisGuard) Mark(ctx context.Context, orderID int64) error {
	if err := g.client.Set(ctx, key(orderID), time.Now().UTC().Format(time.RFC3339), g.ttl).Err(); err != nil {
		return fmt.Errorf("mark order %d: %w", orderID, err)
	}
	return nil
}

func key(orderID int64) string {
	return keyPrefix + strconv.FormatInt(orderID, 10)
}
