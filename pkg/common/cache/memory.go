package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process cache bounded by an LRU ceiling and a
// default TTL. Entries are stored as marshaled JSON so callers never
// share mutable state through the cache.
type MemoryCache struct {
	entries    *lru.LRU[string, memoryEntry]
	defaultTTL time.Duration
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries
// items. Entries older than their TTL are treated as absent.
func NewMemoryCache(maxEntries int, defaultTTL time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	// The LRU's own expiry is a backstop; per-entry TTLs are enforced
	// on read because Set accepts arbitrary TTLs.
	return &MemoryCache{
		entries:    lru.NewLRU[string, memoryEntry](maxEntries, nil, defaultTTL),
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a value, unmarshaling it into value.
func (c *MemoryCache) Get(ctx context.Context, key string, value any) error {
	entry, ok := c.entries.Get(key)
	if !ok {
		return ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return ErrNotFound
	}
	return json.Unmarshal(entry.data, value)
}

// Set stores a value under key for ttl (the default TTL when ttl <= 0).
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.entries.Add(key, memoryEntry{data: data, expiresAt: expiresAt})
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Exists reports whether key holds an unexpired entry.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return false, nil
	}
	return true, nil
}

// Flush discards every entry.
func (c *MemoryCache) Flush(ctx context.Context) error {
	c.entries.Purge()
	return nil
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	c.entries.Purge()
	return nil
}

// Len returns the number of live entries, for introspection.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
