// Package dedupe stores the short-TTL markers that suppress duplicate
// enqueueing of webhook deliveries. Markers are ephemeral by design: a worker
// crash leaves the marker to expire on its TTL and redelivery is absorbed by
// the idempotent upsert.
package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the marker contract: presence of a key means "already enqueued".
type Store interface {
	// Exists reports whether the marker is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Mark sets the marker with the given TTL.
	Mark(ctx context.Context, key string, ttl time.Duration) error

	// Clear removes the marker. Called by the worker only after a fully
	// successful upsert.
	Clear(ctx context.Context, key string) error
}

// RedisStore keeps markers in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, "1", ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	err := s.client.Del(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
