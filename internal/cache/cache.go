// Package cache holds the storage contract shared by the run cache and the
// H3 cell index.
package cache

import (
	"context"
	"time"
)

// Store is the subset of Redis the caches need.
type Store interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members []string, ttl time.Duration) error
	SMembers(ctx context.Context, keys []string) ([]string, error)
}
