package hottrigger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the hot-trigger mapping with a redis hash per lexicon
// version. Timeouts are short: a slow cache must lose to the full scan.
type RedisCache struct {
	Client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(redisURL string, socketTimeout time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if socketTimeout <= 0 {
		socketTimeout = DefaultSocketTimeout
	}
	opt.DialTimeout = socketTimeout
	opt.ReadTimeout = socketTimeout
	opt.WriteTimeout = socketTimeout
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return &RedisCache{Client: rdb}, nil
}

func (c *RedisCache) PrimeIfAbsent(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	exists, err := c.Client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	// prime the whole mapping in a single round-trip
	multi := c.Client.Pipeline()
	flat := make(map[string]any, len(mapping))
	for k, v := range mapping {
		flat[k] = v
	}
	multi.HSet(ctx, key, flat)
	if ttl > 0 {
		multi.Expire(ctx, key, ttl)
	}
	_, err = multi.Exec(ctx)
	return err
}

func (c *RedisCache) GetMulti(ctx context.Context, key string, fields []string) (map[string]string, error) {
	values, err := c.Client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[fields[i]] = s
		}
	}
	return out, nil
}
