// Package cache implements the two-tier TTL cache shared by the domain stores.
//
// The memory tier is freecache and lives for the process lifetime. The
// durable tier is the persisted snapshot, read at startup to seed state
// before the first network round trip. Entries are JSON encoded on write,
// so a cached value never shares memory with the caller.
package cache

import (
	"consentsync/internal/clock"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
)

type LocalCacheInterface interface {
	Set(key string, value any, ttl time.Duration) error
	// Get decodes the live entry for key into out. Expired entries are
	// removed from both tiers and reported as a miss.
	Get(key string, out any) bool
	Invalidate(key string)
	Clear()
}

type LocalCache struct {
	mu      sync.Mutex
	memory  providers.CacheProviderInterface
	durable *persistence.Store
	clock   clock.Clock
	logger  providers.Logger
}

func NewLocalCache(memory providers.CacheProviderInterface, durable *persistence.Store, clk clock.Clock, logger providers.Logger) *LocalCache {
	return &LocalCache{
		memory:  memory,
		durable: durable,
		clock:   clk,
		logger:  logger,
	}
}

func (c *LocalCache) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache %s: ttl must be positive, got %v", key, ttl)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}

	now := c.clock.Now()
	entry := &persistence.Entry{
		Value:     raw,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeMemory(key, entry, ttl)
	c.durable.PutEntry(key, entry)
	return nil
}

func (c *LocalCache) writeMemory(key string, entry *persistence.Entry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.memory.Del(key)
		return
	}
	if err := c.memory.Set(key, data, ttl); err != nil {
		// an older copy must not outlive the durable one
		c.memory.Del(key)
		if errors.Is(err, freecache.ErrLargeEntry) {
			c.logger.Debugf(providers.TypeSync, "Cache entry %s (%d bytes) kept in durable tier only", key, len(data))
			return
		}
		c.logger.Warnf(providers.TypeSync, "Memory cache write for %s failed: %v", key, err)
	}
}

func (c *LocalCache) Get(key string, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, fromMemory := c.lookup(key)
	if entry == nil {
		return false
	}

	now := c.clock.Now()
	if entry.Expired(now) {
		c.memory.Del(key)
		c.durable.DeleteEntry(key)
		c.logger.Debugf(providers.TypeSync, "Cache entry %s expired at %s", key, entry.ExpiresAt.Format(time.RFC3339))
		return false
	}

	if err := json.Unmarshal(entry.Value, out); err != nil {
		c.logger.Warnf(providers.TypeSync, "Dropping undecodable cache entry %s: %v", key, err)
		c.memory.Del(key)
		c.durable.DeleteEntry(key)
		return false
	}

	if !fromMemory {
		c.writeMemory(key, entry, entry.ExpiresAt.Sub(now))
	}
	return true
}

func (c *LocalCache) lookup(key string) (*persistence.Entry, bool) {
	if data, ok := c.memory.Get(key); ok {
		var entry persistence.Entry
		if err := json.Unmarshal(data, &entry); err == nil {
			return &entry, true
		}
		c.memory.Del(key)
	}
	if entry, ok := c.durable.GetEntry(key); ok {
		return entry, false
	}
	return nil, false
}

func (c *LocalCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory.Del(key)
	c.durable.DeleteEntry(key)
}

func (c *LocalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory.Clear()
	c.durable.ClearEntries()
}

// Get is the typed form of LocalCacheInterface.Get.
func Get[T any](c LocalCacheInterface, key string) (T, bool) {
	var v T
	if !c.Get(key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}
