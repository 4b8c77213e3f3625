package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard is a Guard backed by Redis, for deployments running more than
// one instance of the service. Expiry is handled natively by Redis TTLs.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisGuard connects to Redis and returns a guard storing fingerprints
// with the given TTL.
func NewRedisGuard(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisGuard, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisGuard{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "idempotency_guard"),
	}, nil
}

// Close closes the Redis connection.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

func guardKey(fingerprint string) string {
	return "dispatch:fingerprint:" + fingerprint
}

// Seen reports whether the fingerprint is currently registered.
func (g *RedisGuard) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := g.client.Exists(ctx, guardKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return n > 0, nil
}

// Register records the fingerprint with the guard's TTL.
func (g *RedisGuard) Register(ctx context.Context, fingerprint string) error {
	if err := g.client.Set(ctx, guardKey(fingerprint), 1, g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register fingerprint: %w", err)
	}
	return nil
}

// Sweep is a no-op; Redis expires keys natively.
func (g *RedisGuard) Sweep(_ context.Context) (int, error) {
	return 0, nil
}
