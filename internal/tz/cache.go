package tz

import (
	"strings"
	"sync"
	"time"
)

// defaultCacheEntries bounds the number of remembered addresses.
const defaultCacheEntries = 10000

// cache remembers lookup results per address. Failed lookups are kept for
// a tenth of the TTL. When full, expired entries go first, then the entry
// closest to expiry.
type cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	max   int
	now   func() time.Time
}

type cacheEntry struct {
	zone    string
	expires time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{store: make(map[string]cacheEntry), ttl: ttl, max: defaultCacheEntries, now: time.Now}
}

func cacheKey(address string) string { return strings.ToLower(strings.TrimSpace(address)) }

// get returns the cached zone ("" for a remembered miss) and whether an
// unexpired entry was present.
func (c *cache) get(address string) (string, bool) {
	k := cacheKey(address)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return "", false
	}
	return e.zone, true
}

func (c *cache) set(address, zone string) {
	ttl := c.ttl
	if zone == "" {
		ttl /= 10
	}
	k := cacheKey(address)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[k]; !ok && len(c.store) >= c.max {
		c.evictLocked(now)
	}
	c.store[k] = cacheEntry{zone: zone, expires: now.Add(ttl)}
}

func (c *cache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.store {
		if now.After(e.expires) {
			delete(c.store, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(c.store) >= c.max && oldestKey != "" {
		delete(c.store, oldestKey)
	}
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
