package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mozzafiato/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisResponseCache stores each namespace as a hash of request key → entry.
type RedisResponseCache struct {
	client *redis.Client
	prefix string
}

func NewRedisResponseCache(client *redis.Client) *RedisResponseCache {
	return &RedisResponseCache{client: client, prefix: "respcache"}
}

func (r *RedisResponseCache) hashKey(namespace string) string {
	return fmt.Sprintf("%s:%s", r.prefix, namespace)
}

func (r *RedisResponseCache) indexKey() string {
	return r.prefix + ":namespaces"
}

func (r *RedisResponseCache) Put(ctx context.Context, entry *models.CacheEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.hashKey(entry.Namespace), entry.Key, data)
	pipe.SAdd(ctx, r.indexKey(), entry.Namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache %s in redis: %w", entry.Key, err)
	}
	return nil
}

func (r *RedisResponseCache) Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.HGet(ctx, r.hashKey(namespace), key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached %s from redis: %w", key, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (r *RedisResponseCache) Delete(ctx context.Context, namespace, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.HDel(ctx, r.hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("failed to delete cached %s from redis: %w", key, err)
	}
	return nil
}

func (r *RedisResponseCache) Namespaces(ctx context.Context) ([]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache namespaces: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *RedisResponseCache) DropNamespace(ctx context.Context, namespace string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.hashKey(namespace))
	pipe.SRem(ctx, r.indexKey(), namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop cache namespace %s: %w", namespace, err)
	}
	return nil
}
