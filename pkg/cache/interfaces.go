package cache

import "time"

// TimeProvider supplies the current time.
// This allows tests to control expiry and freshness.
type TimeProvider interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store defines the read/write surface of the search result cache used by callers.
type Store interface {
	Get(keywords []string, query string) (Entry, bool)
	IsFresh(keywords []string, query string) bool
	EvictExpired() int
	Clear()
	Stats() Stats
}
