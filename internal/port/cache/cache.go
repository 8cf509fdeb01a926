// Package cache defines a minimal byte-value cache port.
package cache

import (
	"context"
	"time"
)

// Cache is a read-through cache for hot lookups (compiled workflow templates).
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
