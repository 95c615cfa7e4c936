// Package redis provides Redis-based implementations of the store interfaces.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"auth-go/internal/config"
	"auth-go/internal/metrics"
)

// Key prefixes for different data types in Redis.
const (
	prefixProcessed = "processed:"
	prefixLock      = "shedlock:"
)

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// IdempotencyStore implements store.IdempotencyStore using Redis.
type IdempotencyStore struct {
	client *redis.Client
}

// NewIdempotencyStore creates a new Redis-backed idempotency store.
func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// processedKey generates the Redis key for a handled message key.
func processedKey(key string) string {
	return prefixProcessed + key
}

// MarkProcessed records key for ttl with SET NX and reports whether it was new.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.client.SetNX(ctx, processedKey(key), 1, ttl).Result()
	observe("mark_processed", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	return ok, nil
}

// Forget removes key.
func (s *IdempotencyStore) Forget(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, processedKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to forget message key: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *IdempotencyStore) Close() error {
	return s.client.Close()
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.StorageOperationLatency.WithLabelValues("redis", operation).Observe(time.Since(start).Seconds())
	metrics.StorageOperationsTotal.WithLabelValues("redis", operation, status).Inc()
}
