package hottrigger

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemCache is an in-process Cache for tests and single-node deployments.
// Entries expire on the LRU's TTL rather than per-key.
type MemCache struct {
	Data *expirable.LRU[string, map[string]string]
}

var _ Cache = (*MemCache)(nil)

func NewMemCache(capacity int, ttl time.Duration) *MemCache {
	return &MemCache{
		Data: expirable.NewLRU[string, map[string]string](capacity, nil, ttl),
	}
}

func (c *MemCache) PrimeIfAbsent(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	if _, ok := c.Data.Get(key); ok {
		return nil
	}
	copied := make(map[string]string, len(mapping))
	for k, v := range mapping {
		copied[k] = v
	}
	c.Data.Add(key, copied)
	return nil
}

func (c *MemCache) GetMulti(ctx context.Context, key string, fields []string) (map[string]string, error) {
	mapping, ok := c.Data.Get(key)
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := mapping[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}
