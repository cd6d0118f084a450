// Package cache keeps the short-lived Redis state of the API: verified
// auth contexts, credential status answers and rate limit buckets.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStatusTTL is used when no credential status TTL is configured.
const DefaultStatusTTL = 30 * time.Second

// Cache wraps a Redis client. Methods return errors and leave fail-open
// decisions to callers.
type Cache struct {
	client    *redis.Client
	statusTTL time.Duration
}

func clientOptions(redisURL string) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// The API and the run history worker share one pool.
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	return opt, nil
}

// New connects to redisURL and pings it. statusTTL bounds how long
// credential status answers are reused; zero selects DefaultStatusTTL.
func New(ctx context.Context, redisURL string, statusTTL time.Duration) (*Cache, error) {
	opt, err := clientOptions(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &Cache{client: client, statusTTL: statusTTL}, nil
}

// Ping satisfies the readiness checker.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Cache) Close() error { return c.client.Close() }

// Client exposes the connection for the run history stream, which needs
// consumer group commands the Cache does not wrap.
func (c *Cache) Client() *redis.Client { return c.client }
