// Package cache provides the shared caching abstraction used by the
// repositories and the context engine: an in-process LRU front, an
// optional Redis backend, and a metrics-instrumented wrapper.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not present in the cache.
var ErrNotFound = errors.New("key not found in cache")

// Cache defines the caching operations shared by all backends. Values
// round-trip through JSON so reads always yield an independent copy.
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Flush(ctx context.Context) error
	Close() error
}
