package accesscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores grant markers as short string keys with an expiry.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to addr and pings it under a 5s deadline.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &RedisBackend{client: client}, nil
}

// Has implements Backend.
func (r *RedisBackend) Has(ctx context.Context, key string) (bool, error) {
	err := r.client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put implements Backend.
func (r *RedisBackend) Put(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Set(ctx, key, "1", ttl).Err()
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
