// Package cache provides the in-process search result cache and author lookup cache.
package cache

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

// Search cache defaults.
const (
	DefaultTTL        = 15 * time.Minute // upstream rate-limit window
	DefaultFreshFor   = 5 * time.Minute  // hits younger than this skip the live call
	DefaultMaxEntries = 100
)

// Entry is an immutable batch of normalized posts for one query.
type Entry struct {
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Query     string       `json:"query"`
	Keywords  []string     `json:"keywords"`
	Posts     []types.Post `json:"posts"`
}

// clone returns a copy whose slices the caller may keep.
func (e *Entry) clone() Entry {
	return Entry{
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
		Query:     e.Query,
		Keywords:  slices.Clone(e.Keywords),
		Posts:     slices.Clone(e.Posts),
	}
}

// Stats is a read-only snapshot of the cache.
type Stats struct {
	Keys []string `json:"keys"`
	Size int      `json:"size"`
}

// SearchConfig configures a SearchCache. Zero values select the defaults.
type SearchConfig struct {
	Clock      TimeProvider
	TTL        time.Duration
	FreshFor   time.Duration
	MaxEntries int
}

// SearchCache memoizes recent search results per keyword set and query.
// Entries are evicted in insertion order when the cache is full; reads never reorder.
type SearchCache struct {
	clock     TimeProvider
	entries   *simplelru.LRU[string, *Entry]
	ttl       time.Duration
	freshFor  time.Duration
	mu        sync.RWMutex
	evictions atomic.Int64
}

// NewSearchCache creates an empty search cache.
func NewSearchCache(cfg SearchConfig) *SearchCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FreshFor <= 0 {
		cfg.FreshFor = DefaultFreshFor
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	// NewLRU only fails for a non-positive size, which is ruled out above.
	entries, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, nil)
	if err != nil {
		panic(err)
	}

	return &SearchCache{
		clock:    cfg.Clock,
		entries:  entries,
		ttl:      cfg.TTL,
		freshFor: cfg.FreshFor,
	}
}

// Key derives the cache key for a keyword set and query.
// Keyword order does not matter; the input slice is not modified.
func Key(keywords []string, query string) string {
	sorted := slices.Clone(keywords)
	slices.Sort(sorted)
	return strings.Join(sorted, ",") + ":" + query
}

// Get retrieves an entry if present and not expired.
// Expired entries are deleted as a side effect.
func (c *SearchCache) Get(keywords []string, query string) (Entry, bool) {
	key := Key(keywords, query)

	c.mu.RLock()
	entry, exists := c.entries.Peek(key)
	if !exists {
		c.mu.RUnlock()
		return Entry{}, false
	}

	if c.expired(entry) {
		c.mu.RUnlock()
		c.mu.Lock()
		// Double-check after lock upgrade; another writer may have replaced it.
		if e, ok := c.entries.Peek(key); ok && c.expired(e) {
			c.entries.Remove(key)
			slog.Debug("Search cache entry expired", "component", "cache", "key", key)
		}
		c.mu.Unlock()
		return Entry{}, false
	}

	out := entry.clone()
	c.mu.RUnlock()
	return out, true
}

// Put normalizes raw posts and stores them, replacing any entry under the same key.
// When the cache is full and the key is new, the earliest inserted entry is evicted.
func (c *SearchCache) Put(keywords []string, query string, raw []types.RawPost, authors map[string]types.Author) Entry {
	now := c.clock.Now()
	entry := &Entry{
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Query:     query,
		Keywords:  slices.Clone(keywords),
		Posts:     Normalize(raw, authors),
	}
	key := Key(keywords, query)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove first so a replacement is ordered as the newest insertion.
	c.entries.Remove(key)
	if c.entries.Add(key, entry) {
		c.evictions.Add(1)
		slog.Debug("Search cache full, evicted oldest entry", "component", "cache", "size", c.entries.Len())
	}
	return entry.clone()
}

// IsFresh reports whether a non-expired entry exists and is within the freshness window.
func (c *SearchCache) IsFresh(keywords []string, query string) bool {
	key := Key(keywords, query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries.Peek(key)
	if !ok || c.expired(entry) {
		return false
	}
	return c.clock.Now().Sub(entry.CreatedAt) < c.freshFor
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *SearchCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && c.expired(entry) {
			c.entries.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Evicted expired search cache entries", "component", "cache", "removed", removed, "remaining", c.entries.Len())
	}
	return removed
}

// Clear empties the cache.
func (c *SearchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns the current size and keys, oldest first.
func (c *SearchCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size: c.entries.Len(),
		Keys: c.entries.Keys(),
	}
}

// Len returns the number of entries, expired or not.
func (c *SearchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// Evictions returns how many entries were evicted for capacity since creation.
func (c *SearchCache) Evictions() int64 {
	return c.evictions.Load()
}

func (c *SearchCache) expired(e *Entry) bool {
	return !c.clock.Now().Before(e.ExpiresAt)
}

// Normalize resolves each post's author handle from the lookup table.
// Authors missing from the table get types.UnknownAuthor.
func Normalize(raw []types.RawPost, authors map[string]types.Author) []types.Post {
	posts := make([]types.Post, 0, len(raw))
	for _, r := range raw {
		username := types.UnknownAuthor
		if a, ok := authors[r.AuthorID]; ok && a.Username != "" {
			username = a.Username
		}
		posts = append(posts, types.Post{
			ID:             r.ID,
			Text:           r.Text,
			AuthorID:       r.AuthorID,
			AuthorUsername: username,
			CreatedAt:      r.CreatedAt,
			Metrics:        r.Metrics,
			Lang:           r.Lang,
		})
	}
	return posts
}
