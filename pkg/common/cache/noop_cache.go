package cache

import (
	"context"
	"time"
)

// NoOpCache always misses. Used for graceful degradation when caching
// is unavailable and in tests that must exercise the slow path.
type NoOpCache struct{}

// NewNoOpCache creates a cache that stores nothing.
func NewNoOpCache() Cache { return &NoOpCache{} }

// Get always reports a miss.
func (n *NoOpCache) Get(ctx context.Context, key string, value any) error { return ErrNotFound }

// Set does nothing.
func (n *NoOpCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}

// Delete does nothing.
func (n *NoOpCache) Delete(ctx context.Context, key string) error { return nil }

// Exists always reports false.
func (n *NoOpCache) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

// Flush does nothing.
func (n *NoOpCache) Flush(ctx context.Context) error { return nil }

// Close does nothing.
func (n *NoOpCache) Close() error { return nil }
