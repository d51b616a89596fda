// Package search serves keyword searches from the result cache and falls back to live
// X API calls, degrading gracefully when the upstream throttles.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tweetpilot/tweetpilot/pkg/cache"
	"github.com/tweetpilot/tweetpilot/pkg/twitter"
	"github.com/tweetpilot/tweetpilot/pkg/types"
)

// Fetch policy constants.
const (
	DefaultMaxResults  = 10
	ProbeMaxResults    = 1
	DefaultCallTimeout = 10 * time.Second
	RetryAfterHint     = "15 minutes"
)

// Source says where a result's posts came from.
type Source string

// Result sources.
const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceNone  Source = "none"
)

// ErrorKind classifies a failed search for callers.
type ErrorKind string

// Error kinds.
const (
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnauthorized ErrorKind = "unauthorized"
	KindUpstream     ErrorKind = "upstream_error"
)

// ErrNoKeywords is returned when a request carries no usable keyword.
var ErrNoKeywords = errors.New("search: at least one keyword is required")

// Filters narrows a keyword search. Nil booleans take their defaults.
type Filters struct {
	ExcludeRetweets *bool    `json:"exclude_retweets,omitempty"`
	ExcludeReplies  *bool    `json:"exclude_replies,omitempty"`
	Languages       []string `json:"languages,omitempty"`
}

// Request is a keyword search.
type Request struct {
	Filters    Filters  `json:"filters"`
	Keywords   []string `json:"keywords"`
	MaxResults int      `json:"max_results,omitempty"`
	Refresh    bool     `json:"refresh,omitempty"`
}

// Result is what callers render. Posts is never nil.
type Result struct {
	CachedAt   *time.Time   `json:"cached_at,omitempty"`
	Source     Source       `json:"source"`
	Error      ErrorKind    `json:"error,omitempty"`
	Message    string       `json:"message,omitempty"`
	RetryAfter string       `json:"retry_after,omitempty"`
	Query      string       `json:"query"`
	Keywords   []string     `json:"keywords"`
	Posts      []types.Post `json:"posts"`
	Status     int          `json:"-"`
	Count      int          `json:"count"`
	Stale      bool         `json:"stale,omitempty"`
}

// Searcher is the upstream search surface. *twitter.Client implements it.
type Searcher interface {
	SearchRecent(ctx context.Context, req twitter.SearchRequest) (*twitter.SearchResponse, error)
}

// Config configures a Fetcher.
type Config struct {
	Cache       *cache.SearchCache
	Authors     *cache.AuthorCache
	API         Searcher
	Metrics     *Metrics
	CallTimeout time.Duration
}

// Fetcher is the rate-limit-aware search orchestrator.
type Fetcher struct {
	cache       *cache.SearchCache
	authors     *cache.AuthorCache
	api         Searcher
	metrics     *Metrics
	group       singleflight.Group
	callTimeout time.Duration
}

// New creates a Fetcher. A nil cache or author cache gets a default one.
func New(cfg Config) *Fetcher {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewSearchCache(cache.SearchConfig{})
	}
	if cfg.Authors == nil {
		cfg.Authors = cache.NewAuthorCache(0)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Fetcher{
		cache:       cfg.Cache,
		authors:     cfg.Authors,
		api:         cfg.API,
		metrics:     cfg.Metrics,
		callTimeout: cfg.CallTimeout,
	}
}

// Cache returns the fetcher's result cache.
func (f *Fetcher) Cache() *cache.SearchCache {
	return f.cache
}

// Search serves a keyword search from cache when possible and from the X API otherwise.
//
// The upstream is always asked for DefaultMaxResults and MaxResults only trims the
// returned posts, so one cache entry serves every limit.
//
// A throttled upstream is not an error: the result is empty with Error set to rate_limited
// and a nil error. Credential and other upstream failures return both a classified result
// and a non-nil error for logging. If ctx ends first, the result is nil and the error wraps
// ctx.Err(); the shared upstream call still completes and fills the cache.
func (f *Fetcher) Search(ctx context.Context, req Request) (*Result, error) {
	keywords := cleanKeywords(req.Keywords)
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}
	query := twitter.BuildQuery(req.Filters.resolve(keywords))
	limit := req.MaxResults
	if limit <= 0 || limit > DefaultMaxResults {
		limit = DefaultMaxResults
	}

	entry, hit := f.cache.Get(keywords, query)
	if hit && (!req.Refresh || f.cache.IsFresh(keywords, query)) {
		slog.Debug("Search served from cache", "component", "search", "query", query, "count", len(entry.Posts))
		f.metrics.observe("cache_hit")
		return cachedResult(entry, false).limit(limit), nil
	}

	// Detached from the caller's cancellation; the call timeout still applies.
	key := cache.Key(keywords, query)
	ch := f.group.DoChan(key, func() (any, error) {
		v, err := f.fetchLive(context.WithoutCancel(ctx), keywords, query, DefaultMaxResults, true)
		if err != nil {
			return nil, err
		}
		live := v.(*twitter.SearchResponse)
		return f.cache.Put(keywords, query, live.Posts, f.authors.Resolve(live.Posts, live.Authors)), nil
	})

	var shared singleflight.Result
	select {
	case <-ctx.Done():
		return nil, f.abandoned(ctx, query)
	case shared = <-ch:
	}
	if shared.Shared {
		slog.Debug("Coalesced concurrent search", "component", "search", "query", query)
	}
	if shared.Err == nil {
		entry := shared.Val.(cache.Entry)
		slog.Info("Search served live", "component", "search", "query", query, "keywords", keywords, "count", len(entry.Posts))
		f.metrics.observe("live")
		res := cachedResult(entry, false)
		res.Source = SourceLive
		res.CachedAt = nil
		return res.limit(limit), nil
	}

	if errors.Is(shared.Err, twitter.ErrRateLimited) && hit {
		slog.Warn("Search rate limited, serving stale cache entry", "component", "search", "query", query, "cached_at", entry.CreatedAt)
		f.metrics.observe("stale_fallback")
		return cachedResult(entry, true).limit(limit), nil
	}
	return f.classify(shared.Err, keywords, query)
}

// abandoned reports a search whose caller went away before it completed.
func (f *Fetcher) abandoned(ctx context.Context, query string) error {
	slog.Debug("Search abandoned by caller", "component", "search", "query", query, "error", ctx.Err())
	f.metrics.observe("canceled")
	return fmt.Errorf("search %q: %w", query, ctx.Err())
}

// Probe checks upstream connectivity with a one-result live call.
// It never reads or writes the cache.
func (f *Fetcher) Probe(ctx context.Context, keywords []string) (*Result, error) {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}
	query := twitter.BuildQuery(Filters{}.resolve(keywords))

	v, err := f.fetchLive(ctx, keywords, query, ProbeMaxResults, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, f.abandoned(ctx, query)
		}
		return f.classify(err, keywords, query)
	}
	live, _ := v.(*twitter.SearchResponse)
	posts := cache.Normalize(live.Posts, f.authors.Resolve(live.Posts, live.Authors))
	f.metrics.observe("probe")
	slog.Info("Connectivity probe succeeded", "component", "search", "query", query, "count", len(posts))
	return &Result{
		Source:   SourceLive,
		Query:    query,
		Keywords: keywords,
		Posts:    posts,
		Count:    len(posts),
		Status:   http.StatusOK,
	}, nil
}

func (f *Fetcher) fetchLive(ctx context.Context, keywords []string, query string, limit int, remember bool) (any, error) {
	if f.api == nil {
		return nil, errors.New("search: no upstream client configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	slog.Debug("Calling recent search", "component", "search", "query", query, "keywords", keywords, "max_results", limit)
	resp, err := f.api.SearchRecent(callCtx, twitter.SearchRequest{Query: query, MaxResults: limit})
	if err != nil {
		return nil, err
	}
	if remember {
		f.authors.Remember(resp.Authors)
	}
	return resp, nil
}

// classify turns an upstream failure into a caller-facing result.
func (f *Fetcher) classify(err error, keywords []string, query string) (*Result, error) {
	res := &Result{
		Source:   SourceNone,
		Query:    query,
		Keywords: keywords,
		Posts:    []types.Post{},
	}

	switch {
	case errors.Is(err, twitter.ErrRateLimited):
		slog.Warn("Search rate limited, returning degraded result", "component", "search", "query", query, "keywords", keywords)
		f.metrics.observe(string(KindRateLimited))
		res.Error = KindRateLimited
		res.Status = http.StatusTooManyRequests
		res.RetryAfter = RetryAfterHint
		res.Message = "Search is temporarily rate limited. Try again in about " + RetryAfterHint + "."
		return res, nil

	case errors.Is(err, twitter.ErrUnauthorized):
		slog.Error("Search credentials rejected by upstream", "component", "search", "query", query, "error", err)
		f.metrics.observe(string(KindUnauthorized))
		res.Error = KindUnauthorized
		res.Status = http.StatusUnauthorized
		res.Message = "The X API rejected the configured credentials."
		return res, fmt.Errorf("search %q: %w", query, err)

	default:
		slog.Error("Search failed", "component", "search", "query", query, "error", err)
		f.metrics.observe(string(KindUpstream))
		res.Error = KindUpstream
		res.Status = http.StatusInternalServerError
		res.Message = "Search failed. Please try again later."
		return res, fmt.Errorf("search %q: %w", query, err)
	}
}

func cachedResult(e cache.Entry, stale bool) *Result {
	created := e.CreatedAt
	return &Result{
		CachedAt: &created,
		Source:   SourceCache,
		Query:    e.Query,
		Keywords: e.Keywords,
		Posts:    e.Posts,
		Count:    len(e.Posts),
		Status:   http.StatusOK,
		Stale:    stale,
	}
}

// limit trims the posts to at most n without touching the cached slice.
func (r *Result) limit(n int) *Result {
	if len(r.Posts) > n {
		r.Posts = r.Posts[:n:n]
		r.Count = n
	}
	return r
}

func (f Filters) resolve(keywords []string) twitter.Filters {
	langs := f.Languages
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return twitter.Filters{
		Keywords:        keywords,
		Languages:       langs,
		ExcludeRetweets: f.ExcludeRetweets == nil || *f.ExcludeRetweets,
		ExcludeReplies:  f.ExcludeReplies == nil || *f.ExcludeReplies,
	}
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
