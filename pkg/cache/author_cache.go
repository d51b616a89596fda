package cache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

// DefaultAuthorCacheSize bounds the number of remembered authors.
const DefaultAuthorCacheSize = 5000

// AuthorCache remembers author handles seen in earlier search responses
// so posts whose author is missing from a response's includes can still be enriched.
type AuthorCache struct {
	authors *lru.Cache[string, types.Author]
}

// NewAuthorCache creates a new author cache holding at most size authors.
func NewAuthorCache(size int) *AuthorCache {
	if size <= 0 {
		size = DefaultAuthorCacheSize
	}
	authors, err := lru.New[string, types.Author](size)
	if err != nil {
		panic(err)
	}
	return &AuthorCache{authors: authors}
}

// Get retrieves an author from cache.
func (ac *AuthorCache) Get(id string) (types.Author, bool) {
	return ac.authors.Get(id)
}

// Remember stores every author with a usable handle.
func (ac *AuthorCache) Remember(authors []types.Author) {
	for _, a := range authors {
		if a.ID == "" || a.Username == "" {
			continue
		}
		ac.authors.Add(a.ID, a)
	}
}

// Len returns the number of cached authors.
func (ac *AuthorCache) Len() int {
	return ac.authors.Len()
}

// Resolve builds an author lookup table for a batch of posts.
// Authors from the response's includes win over remembered ones. Unresolvable ids are left out.
func (ac *AuthorCache) Resolve(raw []types.RawPost, includes []types.Author) map[string]types.Author {
	lookup := make(map[string]types.Author, len(includes))
	for _, a := range includes {
		if a.ID != "" {
			lookup[a.ID] = a
		}
	}
	for _, p := range raw {
		if _, ok := lookup[p.AuthorID]; ok {
			continue
		}
		if a, ok := ac.authors.Get(p.AuthorID); ok {
			lookup[p.AuthorID] = a
		}
	}
	return lookup
}

// IsLikelyBot checks if a handle suggests an automated account based on common patterns.
func IsLikelyBot(username string) bool {
	lower := strings.ToLower(username)

	if strings.HasSuffix(lower, "bot") || strings.HasPrefix(lower, "bot_") {
		return true
	}

	knownPatterns := []string{
		"autotweet",
		"autopost",
		"rssfeed",
		"rss_",
		"_rss",
		"newsfeed",
		"dealsalert",
		"jobsfeed",
		"giveaway",
		"followback",
	}
	for _, p := range knownPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}
