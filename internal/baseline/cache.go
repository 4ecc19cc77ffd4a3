package baseline

import (
	"sync"
	"time"
)

type cacheEntry struct {
	profile   *Profile
	fetchedAt time.Time
}

// Cache is the process-local baseline tier. An entry is fresh while
// now - fetchedAt < ttl; stale entries stay until the next Refresh.
// There is no capacity bound.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given TTL. now may be nil to use time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached profile for userID if it is still fresh.
func (c *Cache) Get(userID string) (*Profile, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.profile, true
}

// Refresh stores p for userID stamped with the current time, replacing any
// previous entry.
func (c *Cache) Refresh(userID string, p *Profile) {
	c.RefreshAt(userID, p, c.now())
}

// RefreshAt is Refresh with an explicit fetch time, for profiles that already
// aged in another tier.
func (c *Cache) RefreshAt(userID string, p *Profile, fetchedAt time.Time) {
	c.mu.Lock()
	c.entries[userID] = cacheEntry{profile: p, fetchedAt: fetchedAt}
	c.mu.Unlock()
}

// Invalidate drops userID from the cache.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Len returns the number of entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
