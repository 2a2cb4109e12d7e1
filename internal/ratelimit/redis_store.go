package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store with a shared counter in Redis, giving strict
// limits across multiple gateway instances at the cost of a round-trip per
// admission. The counter covers a fixed window aligned to the window length
// rather than a sliding log; limits are exact per aligned window.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL
// (e.g. "redis://localhost:6379/0") and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Admit increments the shared counter for the key's current window and
// compares it against the limit.
func (s *RedisStore) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	bucket := time.Now().UnixNano() / int64(window)
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	count, err := s.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		// First hit in this window owns the expiry.
		if err := s.client.Expire(ctx, counterKey, window).Err(); err != nil {
			return Decision{}, err
		}
	}

	resetAt := time.Unix(0, (bucket+1)*int64(window))
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
