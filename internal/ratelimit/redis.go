package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"registryproxy/internal/models"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps event logs in Redis so several proxy instances share one
// budget per key. Each log is a JSON array stored under prefix:key with the
// window as its TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg models.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) redisKey(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]int64, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var events []int64
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	return events, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, events []int64, ttl time.Duration) error {
	if events == nil {
		events = []int64{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode event log: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity for health reporting.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
