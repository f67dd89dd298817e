// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bewo-chat/internal/core/ports"
)

// Ensure RedisRepository implements DedupRepository
var _ ports.DedupRepository = (*RedisRepository)(nil)

// RedisRepository implements deduplication using Redis cache
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// Claim atomically reserves an inbound message key with SETNX.
// Returns false when another delivery already holds the key.
func (r *RedisRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	redisKey := buildDedupKey(key)

	// Value is the claim timestamp for debugging purposes
	ok, err := r.client.SetNX(ctx, redisKey, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to claim dedup key",
			"error", err,
			"key", redisKey,
		)
		return false, fmt.Errorf("claim dedup key: %w", err)
	}

	if !ok {
		slog.Warn("Duplicate webhook event detected",
			"key", redisKey,
		)
		return false, nil
	}

	slog.Debug("Dedup key claimed",
		"key", redisKey,
		"ttl", ttl,
	)
	return true, nil
}

// Release drops a claim so a platform redelivery can be processed again
func (r *RedisRepository) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, buildDedupKey(key)).Err(); err != nil {
		return fmt.Errorf("release dedup key: %w", err)
	}
	return nil
}

// buildDedupKey constructs the Redis key for deduplication
// Key format dedup:msg:{channel}:{platform_msg_id}
func buildDedupKey(key string) string {
	return fmt.Sprintf("dedup:msg:%s", key)
}
