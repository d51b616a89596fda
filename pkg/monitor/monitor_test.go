package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tweetpilot/tweetpilot/pkg/cache"
	"github.com/tweetpilot/tweetpilot/pkg/internal/testutil"
	"github.com/tweetpilot/tweetpilot/pkg/search"
	"github.com/tweetpilot/tweetpilot/pkg/store"
	"github.com/tweetpilot/tweetpilot/pkg/twitter"
	"github.com/tweetpilot/tweetpilot/pkg/types"
)

type fakeSearcher struct {
	results map[string]*search.Result
	err     map[string]error
	calls   []string
	mu      sync.Mutex
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.Keywords[0]
	f.calls = append(f.calls, key)
	if err := f.err[key]; err != nil {
		return &search.Result{Error: search.KindUpstream, Posts: []types.Post{}}, err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return &search.Result{Source: search.SourceLive, Posts: []types.Post{}, Status: http.StatusOK}, nil
}

type fakePublisher struct {
	err   error
	posts []string
}

func (f *fakePublisher) CreateTweet(_ context.Context, token, text, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.posts = append(f.posts, token+"|"+text)
	return "tweet-1", nil
}

type fixture struct {
	clock     *testutil.MockTimeProvider
	store     *store.Memory
	searcher  *fakeSearcher
	publisher *fakePublisher
	reg       *prometheus.Registry
	runner    *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewMockTimeProvider(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	st := store.NewMemory()
	st.SetClock(clock.Now)
	f := &fixture{
		clock:     clock,
		store:     st,
		searcher:  &fakeSearcher{results: map[string]*search.Result{}, err: map[string]error{}},
		publisher: &fakePublisher{},
		reg:       prometheus.NewRegistry(),
	}
	f.runner = New(Config{
		Store:     st,
		Searcher:  f.searcher,
		Publisher: f.publisher,
		Cache:     cache.NewSearchCache(cache.SearchConfig{Clock: clock}),
		Metrics:   NewMetrics(f.reg),
		Now:       clock.Now,
		Interval:  time.Minute,
	})
	return f
}

func (f *fixture) filter(t *testing.T, user, keyword string) {
	t.Helper()
	if _, err := f.store.CreateFilter(context.Background(), user, keyword); err != nil {
		t.Fatalf("CreateFilter: %v", err)
	}
}

func posts(ids ...string) []types.Post {
	out := make([]types.Post, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Post{ID: id, Text: "looking for a golang job", AuthorUsername: "dev"})
	}
	return out
}

func TestRunOnce_SavesNewMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.filter(t, "alice", "golang")
	f.searcher.results["golang"] = &search.Result{Posts: posts("1", "2")}

	if err := f.runner.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	matches, err := f.store.ListMatches(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Keyword != "golang" {
		t.Errorf("expected keyword golang, got %q", matches[0].Keyword)
	}

	// Same posts again are not new.
	if err := f.runner.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	sum, err := f.store.Summary(ctx, "alice", time.Time{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Matches != 2 {
		t.Errorf("expected 2 recorded matches, got %d", sum.Matches)
	}

	stats := f.runner.Stats()
	if stats.Runs != 2 || stats.PostsMatched != 2 || stats.UsersScanned != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if got := promtest.ToFloat64(f.runner.metrics.runs.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 ok runs, got %v", got)
	}
}

func TestRunOnce_SkipsBotAuthors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.filter(t, "alice", "golang")
	f.searcher.results["golang"] = &search.Result{Posts: []types.Post{
		{ID: "1", Text: "golang meetup", AuthorUsername: "gopher"},
		{ID: "2", Text: "golang jobs", AuthorUsername: "golang_jobsfeed"},
		{ID: "3", Text: "golang news", AuthorUsername: "newsbot"},
	}}

	if err := f.runner.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	matches, _ := f.store.ListMatches(ctx, "alice", 0)
	if len(matches) != 1 || matches[0].Post.ID != "1" {
		t.Errorf("expected only the human-authored post, got %+v", matches)
	}
}

func TestRunOnce_RateLimitEndsScan(t *testing.T) {
	f := newFixture(t)
	f.filter(t, "alice", "aaa")
	f.filter(t, "bob", "bbb")
	f.searcher.results["aaa"] = &search.Result{Error: search.KindRateLimited, RetryAfter: search.RetryAfterHint, Posts: []types.Post{}}

	if err := f.runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(f.searcher.calls) != 1 || f.searcher.calls[0] != "aaa" {
		t.Errorf("expected scan to stop after the throttled user, calls: %v", f.searcher.calls)
	}
}

func TestRunOnce_SearchErrorSkipsUser(t *testing.T) {
	f := newFixture(t)
	f.filter(t, "alice", "aaa")
	f.filter(t, "bob", "bbb")
	f.searcher.err["aaa"] = errors.New("upstream down")
	f.searcher.results["bbb"] = &search.Result{Posts: posts("9")}

	if err := f.runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(f.searcher.calls) != 2 {
		t.Errorf("expected both users scanned, calls: %v", f.searcher.calls)
	}
	matches, _ := f.store.ListMatches(context.Background(), "bob", 0)
	if len(matches) != 1 {
		t.Errorf("expected bob's match saved, got %d", len(matches))
	}
}

func TestRunOnce_InactiveFiltersIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	flt, err := f.store.CreateFilter(ctx, "alice", "golang")
	if err != nil {
		t.Fatalf("CreateFilter: %v", err)
	}
	if _, err := f.store.SetFilterActive(ctx, "alice", flt.ID, false); err != nil {
		t.Fatalf("SetFilterActive: %v", err)
	}

	if err := f.runner.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(f.searcher.calls) != 0 {
		t.Errorf("expected no searches, got %v", f.searcher.calls)
	}
}

func (f *fixture) schedule(t *testing.T, user, text string, at time.Time) uuid.UUID {
	t.Helper()
	c := &types.ScheduledContent{UserID: user, Content: text, ScheduledFor: at}
	if err := f.store.ScheduleContent(context.Background(), c); err != nil {
		t.Fatalf("ScheduleContent: %v", err)
	}
	return c.ID
}

func (f *fixture) status(t *testing.T, user string, id uuid.UUID) types.ScheduledContent {
	t.Helper()
	list, err := f.store.ListContent(context.Background(), user)
	if err != nil {
		t.Fatalf("ListContent: %v", err)
	}
	for _, c := range list {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("content %s not found", id)
	return types.ScheduledContent{}
}

func TestRunOnce_PublishesDueContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.store.UpsertProfile(ctx, &types.Profile{UserID: "alice", TwitterAccessToken: "user-token"}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	now := f.clock.Now()
	due := f.schedule(t, "alice", "launch day", now.Add(-time.Minute))
	later := f.schedule(t, "alice", "tomorrow", now.Add(24*time.Hour))

	if err := f.runner.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(f.publisher.posts) != 1 || f.publisher.posts[0] != "user-token|launch day" {
		t.Errorf("unexpected publish calls: %v", f.publisher.posts)
	}
	if c := f.status(t, "alice", due); c.Status != types.ContentPosted || c.TweetID != "tweet-1" {
		t.Errorf("expected due content posted, got %+v", c)
	}
	if c := f.status(t, "alice", later); c.Status != types.ContentPending {
		t.Errorf("expected future content pending, got %s", c.Status)
	}
	sum, _ := f.store.Summary(ctx, "alice", time.Time{})
	if sum.Posted != 1 {
		t.Errorf("expected 1 posted event, got %d", sum.Posted)
	}
	if got := promtest.ToFloat64(f.runner.metrics.published.WithLabelValues("posted")); got != 1 {
		t.Errorf("expected posted metric 1, got %v", got)
	}
}

func TestRunOnce_PublishFailures(t *testing.T) {
	tests := []struct {
		name     string
		profile  *types.Profile
		pubErr   error
		wantErrs string
	}{
		{"no profile", nil, nil, noAccountMessage},
		{"no token", &types.Profile{UserID: "alice"}, nil, noAccountMessage},
		{"upstream rejects", &types.Profile{UserID: "alice", TwitterAccessToken: "tok"}, errors.New("duplicate content"), "duplicate content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.publisher.err = tt.pubErr
			if tt.profile != nil {
				if err := f.store.UpsertProfile(ctx, tt.profile); err != nil {
					t.Fatalf("UpsertProfile: %v", err)
				}
			}
			id := f.schedule(t, "alice", "hello", f.clock.Now())

			if err := f.runner.RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			c := f.status(t, "alice", id)
			if c.Status != types.ContentFailed || c.Error != tt.wantErrs {
				t.Errorf("expected failed with %q, got %s %q", tt.wantErrs, c.Status, c.Error)
			}
			sum, _ := f.store.Summary(ctx, "alice", time.Time{})
			if sum.Failed != 1 {
				t.Errorf("expected 1 failed event, got %d", sum.Failed)
			}
			if f.runner.Stats().ContentFailed != 1 {
				t.Errorf("expected ContentFailed 1, got %+v", f.runner.Stats())
			}
		})
	}
}

func TestRunOnce_TransientPublishFailureStaysPending(t *testing.T) {
	tests := []struct {
		name   string
		pubErr error
	}{
		{"rate limited", &twitter.APIError{StatusCode: http.StatusTooManyRequests}},
		{"server error", &twitter.APIError{StatusCode: http.StatusServiceUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			if err := f.store.UpsertProfile(ctx, &types.Profile{UserID: "alice", TwitterAccessToken: "tok"}); err != nil {
				t.Fatalf("UpsertProfile: %v", err)
			}
			id := f.schedule(t, "alice", "launch day", f.clock.Now())

			f.publisher.err = tt.pubErr
			if err := f.runner.RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if c := f.status(t, "alice", id); c.Status != types.ContentPending {
				t.Errorf("expected pending after transient failure, got %s %q", c.Status, c.Error)
			}
			if s := f.runner.Stats(); s.ContentDeferred != 1 || s.ContentFailed != 0 {
				t.Errorf("expected one deferral and no failure, got %+v", s)
			}
			sum, _ := f.store.Summary(ctx, "alice", time.Time{})
			if sum.Failed != 0 {
				t.Errorf("expected no failed event, got %d", sum.Failed)
			}

			// The next pass retries the same item.
			f.publisher.err = nil
			if err := f.runner.RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if c := f.status(t, "alice", id); c.Status != types.ContentPosted {
				t.Errorf("expected posted on retry, got %s", c.Status)
			}
		})
	}
}

func TestRunOnce_EvictsExpiredEntries(t *testing.T) {
	f := newFixture(t)
	f.runner.cache.Put([]string{"go"}, "q", nil, nil)
	f.clock.Advance(16 * time.Minute)

	if err := f.runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if f.runner.cache.Len() != 0 {
		t.Errorf("expected expired entry evicted, len=%d", f.runner.cache.Len())
	}
	if f.runner.Stats().EntriesEvicted != 1 {
		t.Errorf("expected 1 eviction in stats, got %+v", f.runner.Stats())
	}
}

func TestStale(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	if f.runner.Stale(now.Add(time.Hour)) {
		t.Error("a runner that never ran is not stale")
	}
	if err := f.runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if f.runner.Stale(now.Add(3 * time.Minute)) {
		t.Error("not stale at exactly three intervals")
	}
	if !f.runner.Stale(now.Add(3*time.Minute + time.Second)) {
		t.Error("expected stale after three intervals")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for f.runner.Stats().Runs == 0 {
		select {
		case <-deadline:
			t.Fatal("first pass did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMatchedKeyword(t *testing.T) {
	tests := []struct {
		text     string
		keywords []string
		want     string
	}{
		{"Hiring a Golang dev", []string{"rust", "golang"}, "golang"},
		{"nothing here", []string{"rust", "golang"}, "rust"},
		{"anything", nil, ""},
	}
	for _, tt := range tests {
		if got := matchedKeyword(tt.text, tt.keywords); got != tt.want {
			t.Errorf("matchedKeyword(%q, %v) = %q, want %q", tt.text, tt.keywords, got, tt.want)
		}
	}
}
