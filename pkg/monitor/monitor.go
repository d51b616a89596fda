// Package monitor runs the background loop: cache housekeeping, passive
// monitoring of users' intent filters, and publishing of due scheduled content.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tweetpilot/tweetpilot/pkg/cache"
	"github.com/tweetpilot/tweetpilot/pkg/search"
	"github.com/tweetpilot/tweetpilot/pkg/store"
	"github.com/tweetpilot/tweetpilot/pkg/twitter"
	"github.com/tweetpilot/tweetpilot/pkg/types"
)

// Loop defaults.
const (
	DefaultInterval = 5 * time.Minute
	PublishBatch    = 20
	staleFactor     = 3
)

const noAccountMessage = "no connected X account"

// Searcher runs keyword searches. *search.Fetcher implements it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// Publisher posts content on a user's behalf. *twitter.Client implements it.
type Publisher interface {
	CreateTweet(ctx context.Context, userToken, text, inReplyTo string) (string, error)
}

// Config configures a Runner.
type Config struct {
	Store     store.Store
	Searcher  Searcher
	Publisher Publisher
	Cache     *cache.SearchCache
	Metrics   *Metrics
	Now       func() time.Time
	Interval  time.Duration
}

// Stats summarizes the loop's work since start.
type Stats struct {
	LastRun         time.Time `json:"last_run"`
	Runs            int64     `json:"runs"`
	UsersScanned    int64     `json:"users_scanned"`
	PostsMatched    int64     `json:"posts_matched"`
	ContentPosted   int64     `json:"content_posted"`
	ContentFailed   int64     `json:"content_failed"`
	ContentDeferred int64     `json:"content_deferred"`
	EntriesEvicted  int64     `json:"entries_evicted"`
}

// Runner is the background loop.
type Runner struct {
	store     store.Store
	searcher  Searcher
	publisher Publisher
	cache     *cache.SearchCache
	metrics   *Metrics
	now       func() time.Time
	stats     Stats
	interval  time.Duration
	mu        sync.RWMutex
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		store:     cfg.Store,
		searcher:  cfg.Searcher,
		publisher: cfg.Publisher,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		interval:  cfg.Interval,
	}
}

// Interval is the delay between passes.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run executes a pass immediately and then once per interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("Monitor started", "component", "monitor", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Monitor pass failed", "component", "monitor", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Monitor stopped", "component", "monitor")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pass. Failures for individual users or items are logged
// and do not stop the pass; the returned error reports store failures.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := r.now()
	var pass Stats

	if r.cache != nil {
		n := r.cache.EvictExpired()
		pass.EntriesEvicted = int64(n)
		if n > 0 {
			slog.Debug("Evicted expired search entries", "component", "monitor", "count", n)
		}
	}

	scanErr := r.scan(ctx, &pass)
	publishErr := r.publish(ctx, &pass)
	err := errors.Join(scanErr, publishErr)

	r.record(start, pass)
	r.metrics.observeRun(err == nil)
	slog.Info("Monitor pass complete", "component", "monitor",
		"users", pass.UsersScanned, "matched", pass.PostsMatched,
		"posted", pass.ContentPosted, "failed", pass.ContentFailed, "deferred", pass.ContentDeferred,
		"duration", r.now().Sub(start))
	return err
}

func (r *Runner) scan(ctx context.Context, pass *Stats) error {
	if r.searcher == nil {
		return nil
	}
	filters, err := r.store.ActiveFilters(ctx)
	if err != nil {
		return fmt.Errorf("load active filters: %w", err)
	}

	users := make([]string, 0, len(filters))
	for u := range filters {
		users = append(users, u)
	}
	slices.Sort(users)

	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		keywords := filters[userID]
		res, err := r.searcher.Search(ctx, search.Request{Keywords: keywords})
		if err != nil {
			slog.Warn("Monitoring search failed", "component", "monitor", "user", userID, "error", err)
			continue
		}
		pass.UsersScanned++
		if res.Error == search.KindRateLimited {
			slog.Warn("Search rate limited, ending monitoring pass", "component", "monitor", "user", userID, "retry_after", res.RetryAfter)
			break
		}
		now := r.now().UTC()
		matches := make([]types.MatchedPost, 0, len(res.Posts))
		for _, p := range res.Posts {
			if cache.IsLikelyBot(p.AuthorUsername) {
				continue
			}
			matches = append(matches, types.MatchedPost{
				UserID:    userID,
				Post:      p,
				Keyword:   matchedKeyword(p.Text, keywords),
				MatchedAt: now,
			})
		}
		if len(matches) == 0 {
			continue
		}
		added, err := r.store.SaveMatches(ctx, matches)
		if err != nil {
			slog.Error("Failed to save matches", "component", "monitor", "user", userID, "error", err)
			continue
		}
		if added == 0 {
			continue
		}
		pass.PostsMatched += int64(added)
		if err := r.store.RecordEvent(ctx, userID, types.EventMatch, int64(added)); err != nil {
			slog.Warn("Failed to record match event", "component", "monitor", "user", userID, "error", err)
		}
		slog.Debug("New matches saved", "component", "monitor", "user", userID, "count", added)
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, pass *Stats) error {
	if r.publisher == nil {
		return nil
	}
	due, err := r.store.DueContent(ctx, r.now(), PublishBatch)
	if err != nil {
		return fmt.Errorf("load due content: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c := &due[i]
		tweetID, err := r.publishOne(ctx, c)
		if err != nil && twitter.Temporary(err) {
			pass.ContentDeferred++
			r.metrics.observePublish("deferred")
			slog.Warn("Scheduled content deferred to next pass", "component", "monitor", "id", c.ID, "user", c.UserID, "error", err)
			continue
		}
		status, kind, msg := types.ContentPosted, types.EventPosted, ""
		if err != nil {
			status, kind, msg = types.ContentFailed, types.EventFailed, err.Error()
			pass.ContentFailed++
			slog.Warn("Scheduled content failed", "component", "monitor", "id", c.ID, "user", c.UserID, "error", err)
		} else {
			pass.ContentPosted++
			slog.Info("Scheduled content posted", "component", "monitor", "id", c.ID, "user", c.UserID, "tweet_id", tweetID)
		}
		r.metrics.observePublish(string(status))

		if err := r.store.MarkContent(ctx, c.ID, status, tweetID, msg); err != nil {
			slog.Error("Failed to mark scheduled content", "component", "monitor", "id", c.ID, "error", err)
			continue
		}
		if err := r.store.RecordEvent(ctx, c.UserID, kind, 1); err != nil {
			slog.Warn("Failed to record publish event", "component", "monitor", "user", c.UserID, "error", err)
		}
	}
	return nil
}

func (r *Runner) publishOne(ctx context.Context, c *types.ScheduledContent) (string, error) {
	profile, err := r.store.GetProfile(ctx, c.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errors.New(noAccountMessage)
	}
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	if profile.TwitterAccessToken == "" {
		return "", errors.New(noAccountMessage)
	}
	return r.publisher.CreateTweet(ctx, profile.TwitterAccessToken, c.Content, "")
}

func (r *Runner) record(start time.Time, pass Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Runs++
	r.stats.LastRun = start
	r.stats.UsersScanned += pass.UsersScanned
	r.stats.PostsMatched += pass.PostsMatched
	r.stats.ContentPosted += pass.ContentPosted
	r.stats.ContentFailed += pass.ContentFailed
	r.stats.ContentDeferred += pass.ContentDeferred
	r.stats.EntriesEvicted += pass.EntriesEvicted
}

// Stats returns cumulative counters.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Stale reports whether the loop has run before but not within three intervals.
func (r *Runner) Stale(now time.Time) bool {
	s := r.Stats()
	return s.Runs > 0 && now.Sub(s.LastRun) > staleFactor*r.interval
}

// matchedKeyword picks the first keyword found in text, case-insensitively.
// The upstream matches on tokens, so a keyword may not appear verbatim.
func matchedKeyword(text string, keywords []string) string {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return k
		}
	}
	if len(keywords) > 0 {
		return keywords[0]
	}
	return ""
}
