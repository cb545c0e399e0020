package model

import (
	"time"

	"github.com/signalsfoundry/tle-fetcher/tle"
)

// NoTTL disables age checks on lookups.
const NoTTL time.Duration = -1

// CacheEntry is a record together with when and where it was obtained.
// The same shape is used by the in-memory cache and the durable repository.
type CacheEntry struct {
	Record    tle.Record
	FetchedAt time.Time
	Source    string
}

// NoradID is the identity the entry is stored under.
func (e CacheEntry) NoradID() string { return e.Record.NoradID }

// Age is the time elapsed between FetchedAt and now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// IsStale reports whether the entry is older than ttl. A negative ttl never
// marks an entry stale.
func (e CacheEntry) IsStale(ttl time.Duration, now time.Time) bool {
	if ttl < 0 {
		return false
	}
	return e.Age(now) > ttl
}
