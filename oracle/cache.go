package oracle

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache adapts a redis client to the Cache interface.
type RedisCache struct {
	Rdb *redis.Client
}

func (c RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.Rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

func (c RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.Rdb.Set(ctx, key, value, ttl)
}
