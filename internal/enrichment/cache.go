package enrichment

import (
	"sync"
	"time"

	"aerospin-backend/internal/clock"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// DefaultMaxCacheEntries caps each per-IP cache
const DefaultMaxCacheEntries = 4096

// ttlCache is a map whose entries expire a fixed time after insertion.
// Expired entries are dropped on read and by purge. Inserting a new key at
// capacity evicts the entry closest to expiry.
type ttlCache[V any] struct {
	mu         sync.Mutex
	clock      clock.Clock
	maxEntries int
	entries    map[string]cacheEntry[V]
}

func newTTLCache[V any](clk clock.Clock, maxEntries int) *ttlCache[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	return &ttlCache[V]{clock: clk, maxEntries: maxEntries, entries: make(map[string]cacheEntry[V])}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.purgeLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictSoonestLocked()
		}
	}
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: now.Add(ttl)}
}

func (c *ttlCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// purge removes expired entries and returns how many remain
func (c *ttlCache[V]) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.clock.Now())
	return len(c.entries)
}

func (c *ttlCache[V]) purgeLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *ttlCache[V]) evictSoonestLocked() {
	var (
		victim  string
		soonest time.Time
		found   bool
	)
	for k, e := range c.entries {
		if !found || e.expiresAt.Before(soonest) {
			victim, soonest, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}
