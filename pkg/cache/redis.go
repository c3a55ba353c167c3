package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the Redis backend writes.
const DefaultRedisPrefix = "offline-proxy:"

// RedisBackend keeps the store registry in a Redis SET and each store in its
// own HASH, so a single entry write is one HSET.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
}

// NewRedisBackend creates a backend on top of redisClient.
// An empty prefix selects DefaultRedisPrefix.
func NewRedisBackend(redisClient *redis.Client, prefix string) *RedisBackend {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (b *RedisBackend) registryKey() string {
	return b.prefix + "stores"
}

func (b *RedisBackend) storeKey(store string) string {
	return b.prefix + "store:" + store
}

func (b *RedisBackend) Stores(ctx context.Context) ([]string, error) {
	names, err := b.redis.SMembers(ctx, b.registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return names, nil
}

func (b *RedisBackend) CreateStore(ctx context.Context, store string) error {
	if err := b.redis.SAdd(ctx, b.registryKey(), store).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

func (b *RedisBackend) DropStore(ctx context.Context, store string) error {
	pipe := b.redis.TxPipeline()
	pipe.Del(ctx, b.storeKey(store))
	pipe.SRem(ctx, b.registryKey(), store)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis drop store %s: %w", store, err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, store, key string) ([]byte, error) {
	data, err := b.redis.HGet(ctx, b.storeKey(store), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return data, nil
}

func (b *RedisBackend) Put(ctx context.Context, store, key string, value []byte) error {
	pipe := b.redis.TxPipeline()
	pipe.SAdd(ctx, b.registryKey(), store)
	pipe.HSet(ctx, b.storeKey(store), key, value)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, store, key string) error {
	if err := b.redis.HDel(ctx, b.storeKey(store), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (b *RedisBackend) Keys(ctx context.Context, store string) ([]string, error) {
	keys, err := b.redis.HKeys(ctx, b.storeKey(store)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return keys, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}

// Close is a no-op: the caller owns the Redis client.
func (b *RedisBackend) Close() error {
	return nil
}
