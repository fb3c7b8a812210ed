// Package ratelimit provides a Redis-backed fixed-window limiter for comment
// writes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts writes per principal in fixed windows. A nil *Limiter is
// valid and allows everything, so callers can run without Redis configured.
type Limiter struct {
	client *redis.Client
	prefix string
	window time.Duration
	max    int
}

// NewRedisLimiter creates a limiter from a Redis URL.
func NewRedisLimiter(redisURL string, window time.Duration, max int) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLimiterWithClient(client, window, max), nil
}

// NewRedisLimiterWithClient creates a limiter from an existing Redis client.
func NewRedisLimiterWithClient(client *redis.Client, window time.Duration, max int) *Limiter {
	return &Limiter{
		client: client,
		prefix: "ratelimit:",
		window: window,
		max:    max,
	}
}

func (l *Limiter) key(userID string) string {
	return l.prefix + userID
}

// Allow records one write for userID and reports whether it fits the current
// window.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	if l == nil {
		return true, nil
	}

	key := l.key(userID)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("set rate window: %w", err)
		}
	}
	return count <= int64(l.max), nil
}

// Close closes the Redis connection.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	return l.client.Close()
}

// Ping checks if Redis is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.client.Ping(ctx).Err()
}
