// Package cache is the in-process cache tier: a bounded map from NORAD id
// to the most recent CacheEntry, with age measured against an injected
// clock.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/timectrl"
)

// DefaultSize bounds the number of identities held in memory.
const DefaultSize = 4096

// Cache is safe for concurrent use. Writes are last-write-wins per identity.
type Cache struct {
	entries *lru.Cache[string, model.CacheEntry]
	clock   timectrl.Clock
}

// New constructs a cache holding at most size identities. A nil clock uses
// the wall clock.
func New(size int, clock timectrl.Clock) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if clock == nil {
		clock = timectrl.Real()
	}
	entries, err := lru.New[string, model.CacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{entries: entries, clock: clock}, nil
}

// Get returns the entry for id. With ttl == model.NoTTL the entry is
// returned regardless of age. Otherwise an entry older than ttl is only
// returned when allowStale is set; use IsStale to tell the cases apart.
func (c *Cache) Get(id string, ttl time.Duration, allowStale bool) (model.CacheEntry, bool) {
	e, ok := c.entries.Get(id)
	if !ok {
		return model.CacheEntry{}, false
	}
	if ttl == model.NoTTL || allowStale {
		return e, true
	}
	if e.IsStale(ttl, c.clock.Now()) {
		return model.CacheEntry{}, false
	}
	return e, true
}

// IsStale reports whether e is older than ttl by the cache's clock.
func (c *Cache) IsStale(e model.CacheEntry, ttl time.Duration) bool {
	return e.IsStale(ttl, c.clock.Now())
}

// Set stores e under its record's identity, replacing any previous entry.
func (c *Cache) Set(e model.CacheEntry) {
	c.entries.Add(e.NoradID(), e)
}

// Delete removes id. Missing ids are ignored.
func (c *Cache) Delete(id string) {
	c.entries.Remove(id)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Len returns the number of cached identities.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// IDs returns the cached identities, least recently used first.
func (c *Cache) IDs() []string {
	return c.entries.Keys()
}
