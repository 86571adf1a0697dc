// Package data provides the storage adapters behind the core ports: the Redis
// shared cache and the Postgres persistent record store.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comicden/recotrack/internal/core"
)

// RedisCacheRepo implements the CacheRepository interface using Redis.
type RedisCacheRepo struct {
	client redis.UniversalClient
}

// NewRedisCacheRepo creates a new RedisCacheRepo with the given Redis client.
func NewRedisCacheRepo(client redis.UniversalClient) *RedisCacheRepo {
	return &RedisCacheRepo{client: client}
}

// Set stores a value in Redis with the given key and TTL.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a value from Redis by key.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Key doesn't exist
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return []byte(result), nil
}

// Delete removes a key from Redis.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	result, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}

	return result > 0, nil
}

// Exists checks if a key exists in Redis.
func (r *RedisCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}

	return result > 0, nil
}

// SetTTL updates the TTL for an existing key in Redis.
func (r *RedisCacheRepo) SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	result, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire: %w", err)
	}

	return result, nil
}

// AppendList pushes a value onto the head of a bounded list, trims it to
// MaxLen entries and refreshes its TTL. The three commands run in a single
// transactional pipeline so the list can never grow past its bound between
// the push and the trim.
func (r *RedisCacheRepo) AppendList(ctx context.Context, params core.AppendListParams) error {
	if params.Key == "" {
		return errors.New("key cannot be empty")
	}
	if params.MaxLen <= 0 {
		return errors.New("max list length must be greater than zero")
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, params.Key, params.Value)
	pipe.LTrim(ctx, params.Key, 0, params.MaxLen-1)
	if params.TTL > 0 {
		pipe.Expire(ctx, params.Key, params.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append list: %w", err)
	}
	return nil
}

// ListRange returns up to limit entries from the head of a list, newest first.
func (r *RedisCacheRepo) ListRange(ctx context.Context, key string, limit int64) ([][]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	if limit <= 0 {
		return nil, nil
	}

	values, err := r.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// Health checks the health of the Redis connection.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
