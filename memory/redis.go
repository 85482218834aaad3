// Package memory provides core.Memory implementations: a Redis-backed store
// for shared deployments and an in-process store for tests and single-node
// runs. The gateway uses memory for chat history metadata only.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/schmitech/orbit/core"
)

// RedisMemory stores string values in Redis behind the shared client's
// namespace. Missing keys read as empty strings, not errors, so callers can
// treat history as optional.
type RedisMemory struct {
	client     *core.RedisClient
	defaultTTL time.Duration
}

// NewRedisMemory wraps the shared Redis client. A zero defaultTTL means
// entries written with ttl=0 expire after one hour.
func NewRedisMemory(client *core.RedisClient, defaultTTL time.Duration) *RedisMemory {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &RedisMemory{client: client, defaultTTL: defaultTTL}
}

func (r *RedisMemory) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

func (r *RedisMemory) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	return r.client.Set(ctx, key, value, ttl)
}

func (r *RedisMemory) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}

func (r *RedisMemory) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
