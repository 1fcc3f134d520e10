package todoapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const listCacheKey = "todo:list"

// ListCache holds the serialized list response between writes. Get returns
// (nil, nil) on a miss.
type ListCache interface {
	Get(ctx context.Context) ([]Todo, error)
	Set(ctx context.Context, list []Todo) error
	Invalidate(ctx context.Context) error
}

type RedisListCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisListCache(rdb *redis.Client, ttl time.Duration) *RedisListCache {
	return &RedisListCache{rdb: rdb, ttl: ttl}
}

func (c *RedisListCache) Get(ctx context.Context) ([]Todo, error) {
	b, err := c.rdb.Get(ctx, listCacheKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Todo
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *RedisListCache) Set(ctx context.Context, list []Todo) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, listCacheKey, b, c.ttl).Err()
}

func (c *RedisListCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, listCacheKey).Err()
}
