package cache

import (
	"context"
	"time"

	"github.com/developer-mesh/agent-hub/pkg/observability"
)

// InstrumentedCache wraps another Cache and records hit/miss counters
// and latencies through the metrics client.
type InstrumentedCache struct {
	inner   Cache
	metrics observability.MetricsClient
	name    string
}

// NewInstrumentedCache decorates inner with cache-operation metrics
// labeled by name.
func NewInstrumentedCache(name string, inner Cache, metrics observability.MetricsClient) *InstrumentedCache {
	return &InstrumentedCache{inner: inner, metrics: metrics, name: name}
}

// Get records a hit or miss for the read.
func (c *InstrumentedCache) Get(ctx context.Context, key string, value any) error {
	start := time.Now()
	err := c.inner.Get(ctx, key, value)
	c.metrics.RecordCacheOperation(c.name+"_get", err == nil, time.Since(start).Seconds())
	return err
}

// Set records the write latency.
func (c *InstrumentedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	c.metrics.RecordCacheOperation(c.name+"_set", err == nil, time.Since(start).Seconds())
	return err
}

// Delete records the invalidation.
func (c *InstrumentedCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, key)
	c.metrics.RecordCacheOperation(c.name+"_delete", err == nil, time.Since(start).Seconds())
	return err
}

// Exists passes through.
func (c *InstrumentedCache) Exists(ctx context.Context, key string) (bool, error) {
	return c.inner.Exists(ctx, key)
}

// Flush passes through.
func (c *InstrumentedCache) Flush(ctx context.Context) error { return c.inner.Flush(ctx) }

// Close passes through.
func (c *InstrumentedCache) Close() error { return c.inner.Close() }
