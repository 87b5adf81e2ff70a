// Package cachestore provides the short-TTL cache used for moderation
// decision results. Reads and writes are best-effort: a cache failure is
// never allowed to affect a decision.
package cachestore

import (
	"context"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
