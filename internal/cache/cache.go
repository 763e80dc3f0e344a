// Package cache provides the TTL byte caches shared across pipeline runs:
// the blob store keeps inline image fallbacks in one and the LLM stages keep
// validated responses in another. Keys are globally unique so concurrent runs
// never need coordination beyond what the backend provides.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores byte values with a per-entry time-to-live.
type Cache interface {
	// Get returns the value and true, or false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryPruneInterval is how often a MemoryCache pruner sweeps expired
// entries. Image payloads live here, so it runs well inside their TTL.
const MemoryPruneInterval = 5 * time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. It is the last-resort fallback when no
// shared cache backend is configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source (for tests).
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.expired(c.now()) {
		c.mu.Lock()
		// a Set may have replaced the entry since the read lock was released
		if current, ok := c.entries[key]; ok && current.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (c *MemoryCache) Prune(ctx context.Context) (int64, error) {
	now := c.now()
	var n int64
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

// RunPruner prunes expired entries every interval until ctx is cancelled.
func (c *MemoryCache) RunPruner(ctx context.Context, interval time.Duration) {
	runPruner(ctx, "memory", interval, c.Prune)
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
