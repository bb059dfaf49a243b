package cachestore

import (
	"context"
)

// CacheStore is a string cache with per-store expiry. A miss returns an
// empty string and no error.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
