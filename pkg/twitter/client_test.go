package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tweetpilot/tweetpilot/pkg/internal/testutil"
)

const testToken = "AAAAAAAAAAAAAAAAAAAAAtest-bearer-token"

func newTestClient(t *testing.T, doer *testutil.MockHTTPDoer) *Client {
	t.Helper()
	c, err := New(Config{
		HTTPClient:  doer,
		BearerToken: testToken,
		BaseURL:     "https://api.test",
		RetryDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestNew_ValidatesToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"empty", "", true},
		{"too short", "abc", true},
		{"whitespace", "AAAAAAAAAAAAAAAA AAAAAAAAAAAA", true},
		{"too long", strings.Repeat("A", maxTokenLength+1), true},
		{"valid", testToken, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BearerToken: tt.token})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{BearerToken: testToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != DefaultBaseURL {
		t.Errorf("expected base url %s, got %s", DefaultBaseURL, c.baseURL)
	}
	if c.attempts != defaultRetryAttempts {
		t.Errorf("expected %d attempts, got %d", defaultRetryAttempts, c.attempts)
	}
	hc, ok := c.httpClient.(*http.Client)
	if !ok || hc.Timeout != DefaultHTTPTimeout {
		t.Errorf("expected *http.Client with %v timeout, got %#v", DefaultHTTPTimeout, c.httpClient)
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		want    string
	}{
		{
			name: "defaults",
			filters: Filters{
				Keywords:        []string{"startup", "designer"},
				Languages:       []string{"en"},
				ExcludeRetweets: true,
				ExcludeReplies:  true,
			},
			want: `("designer" OR "startup") -is:retweet -is:reply lang:en`,
		},
		{
			name:    "single keyword",
			filters: Filters{Keywords: []string{"golang"}},
			want:    `"golang"`,
		},
		{
			name:    "deduplicated and trimmed",
			filters: Filters{Keywords: []string{" go ", "go", "", "rust"}},
			want:    `("go" OR "rust")`,
		},
		{
			name:    "quotes stripped",
			filters: Filters{Keywords: []string{`say "hi"`}},
			want:    `"say hi"`,
		},
		{
			name:    "several languages",
			filters: Filters{Keywords: []string{"a"}, Languages: []string{"ES", "en"}, ExcludeReplies: true},
			want:    `"a" -is:reply (lang:en OR lang:es)`,
		},
		{
			name:    "no keywords",
			filters: Filters{ExcludeRetweets: true},
			want:    "-is:retweet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(tt.filters); got != tt.want {
				t.Errorf("BuildQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildQuery_OrderInsensitive(t *testing.T) {
	a := BuildQuery(Filters{Keywords: []string{"x", "y", "z"}, Languages: []string{"en", "de"}})
	b := BuildQuery(Filters{Keywords: []string{"z", "x", "y"}, Languages: []string{"de", "en"}})
	if a != b {
		t.Errorf("keyword order changed the query: %q vs %q", a, b)
	}
}

func searchBody(n int) map[string]any {
	data := make([]map[string]any, n)
	for i := range n {
		data[i] = map[string]any{
			"id":         string(rune('a' + i)),
			"text":       "post",
			"author_id":  "u1",
			"created_at": "2026-03-01T12:00:00.000Z",
			"public_metrics": map[string]int{
				"like_count": i,
			},
		}
	}
	return map[string]any{
		"data": data,
		"includes": map[string]any{
			"users": []map[string]string{{"id": "u1", "username": "alice", "name": "Alice"}},
		},
		"meta": map[string]int{"result_count": n},
	}
}

func TestSearchRecent_Success(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodGet, searchPath, http.StatusOK, searchBody(3))
	c := newTestClient(t, doer)

	resp, err := c.SearchRecent(context.Background(), SearchRequest{Query: `"go"`, MaxResults: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(resp.Posts))
	}
	if resp.Posts[0].CreatedAt.IsZero() {
		t.Error("expected created_at to be decoded")
	}
	if resp.Posts[2].Metrics == nil || resp.Posts[2].Metrics.LikeCount != 2 {
		t.Errorf("expected public metrics to be decoded, got %+v", resp.Posts[2].Metrics)
	}
	if len(resp.Authors) != 1 || resp.Authors[0].Username != "alice" {
		t.Errorf("expected included author alice, got %+v", resp.Authors)
	}

	calls := doer.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := calls[0].Header.Get("Authorization"); got != "Bearer "+testToken {
		t.Errorf("unexpected Authorization header %q", got)
	}
	u, err := url.Parse(calls[0].URL)
	if err != nil {
		t.Fatalf("bad url: %v", err)
	}
	q := u.Query()
	if q.Get("query") != `"go"` {
		t.Errorf("expected query param, got %q", q.Get("query"))
	}
	if q.Get("expansions") != "author_id" {
		t.Errorf("expected author expansion, got %q", q.Get("expansions"))
	}
	if q.Get("max_results") != "10" {
		t.Errorf("expected max_results=10, got %q", q.Get("max_results"))
	}
}

func TestSearchRecent_FloorAndTruncate(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodGet, searchPath, http.StatusOK, searchBody(10))
	c := newTestClient(t, doer)

	resp, err := c.SearchRecent(context.Background(), SearchRequest{Query: "q", MaxResults: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Posts) != 1 {
		t.Errorf("expected truncation to 1 post, got %d", len(resp.Posts))
	}

	u, err := url.Parse(doer.Calls()[0].URL)
	if err != nil {
		t.Fatalf("bad url: %v", err)
	}
	if got := u.Query().Get("max_results"); got != "10" {
		t.Errorf("expected request raised to the API floor, got max_results=%s", got)
	}
}

func TestSearchRecent_EmptyResult(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodGet, searchPath, http.StatusOK, `{"meta":{"result_count":0}}`)
	c := newTestClient(t, doer)

	resp, err := c.SearchRecent(context.Background(), SearchRequest{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Posts == nil || len(resp.Posts) != 0 {
		t.Errorf("expected empty non-nil posts, got %#v", resp.Posts)
	}
}

func TestSearchRecent_EmptyQuery(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	c := newTestClient(t, doer)

	if _, err := c.SearchRecent(context.Background(), SearchRequest{Query: "  "}); err == nil {
		t.Error("expected error for empty query")
	}
	if len(doer.Calls()) != 0 {
		t.Error("expected no upstream call for empty query")
	}
}

func TestSearchRecent_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantSentinel  error
		wantCalls     int
		wantRetryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, 1, false},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, 1, false},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, 1, false},
		{"bad request", http.StatusBadRequest, nil, 1, false},
		{"server error", http.StatusServiceUnavailable, nil, defaultRetryAttempts, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := testutil.NewMockHTTPDoer()
			doer.SetResponse(http.MethodGet, searchPath, tt.status, map[string]string{"title": "Problem", "detail": "details here"})
			c := newTestClient(t, doer)

			_, err := c.SearchRecent(context.Background(), SearchRequest{Query: "q"})
			if err == nil {
				t.Fatal("expected error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if apiErr.Detail != "details here" {
				t.Errorf("expected detail to be decoded, got %q", apiErr.Detail)
			}
			if apiErr.retryable() != tt.wantRetryable {
				t.Errorf("retryable() = %v, want %v", apiErr.retryable(), tt.wantRetryable)
			}

			for _, sentinel := range []error{ErrRateLimited, ErrUnauthorized} {
				want := sentinel == tt.wantSentinel
				if got := errors.Is(err, sentinel); got != want {
					t.Errorf("errors.Is(err, %v) = %v, want %v", sentinel, got, want)
				}
			}

			if got := len(doer.Calls()); got != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestSearchRecent_RateLimitReset(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	header := http.Header{}
	header.Set("x-rate-limit-reset", "1772366400")
	doer.SetResponseWithHeaders(http.MethodGet, searchPath, http.StatusTooManyRequests, `{"title":"Too Many Requests"}`, header)
	c := newTestClient(t, doer)

	_, err := c.SearchRecent(context.Background(), SearchRequest{Query: "q"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if want := time.Unix(1772366400, 0).UTC(); !apiErr.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, apiErr.ResetAt)
	}
	if !strings.Contains(apiErr.Error(), "Too Many Requests") {
		t.Errorf("expected title in error message, got %q", apiErr.Error())
	}
}

func TestSearchRecent_RetriesServerErrors(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodGet, searchPath, http.StatusBadGateway, nil)
	doer.SetResponse(http.MethodGet, searchPath, http.StatusOK, searchBody(2))
	c := newTestClient(t, doer)

	resp, err := c.SearchRecent(context.Background(), SearchRequest{Query: "q"})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Errorf("expected 2 posts, got %d", len(resp.Posts))
	}
	if got := len(doer.Calls()); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestSearchRecent_TransportError(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetError(http.MethodGet, searchPath, errors.New("connection refused"))
	c := newTestClient(t, doer)

	_, err := c.SearchRecent(context.Background(), SearchRequest{Query: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("transport error misclassified: %v", err)
	}
	if got := len(doer.Calls()); got != defaultRetryAttempts {
		t.Errorf("expected %d attempts, got %d", defaultRetryAttempts, got)
	}
}

func TestCreateTweet(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodPost, tweetsPath, http.StatusCreated, map[string]any{
		"data": map[string]string{"id": "1900", "text": "hello"},
	})
	c := newTestClient(t, doer)

	id, err := c.CreateTweet(context.Background(), "user-token", "  hello  ", "1800")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "1900" {
		t.Errorf("expected id 1900, got %s", id)
	}

	calls := doer.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := calls[0].Header.Get("Authorization"); got != "Bearer user-token" {
		t.Errorf("expected user token to be used, got %q", got)
	}

	var sent struct {
		Reply struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		} `json:"reply"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(calls[0].Body, &sent); err != nil {
		t.Fatalf("bad request body: %v", err)
	}
	if sent.Text != "hello" || sent.Reply.InReplyToTweetID != "1800" {
		t.Errorf("unexpected request body: %s", calls[0].Body)
	}
}

func TestCreateTweet_NoReply(t *testing.T) {
	doer := testutil.NewMockHTTPDoer()
	doer.SetResponse(http.MethodPost, tweetsPath, http.StatusCreated, `{"data":{"id":"1"}}`)
	c := newTestClient(t, doer)

	if _, err := c.CreateTweet(context.Background(), "user-token", "hello", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(doer.Calls()[0].Body), "reply") {
		t.Errorf("expected no reply field, got %s", doer.Calls()[0].Body)
	}
}

func TestCreateTweet_Validation(t *testing.T) {
	c := newTestClient(t, testutil.NewMockHTTPDoer())
	ctx := context.Background()

	if _, err := c.CreateTweet(ctx, "", "hello", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for missing token, got %v", err)
	}
	if _, err := c.CreateTweet(ctx, "tok", "   ", ""); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := c.CreateTweet(ctx, "tok", strings.Repeat("é", MaxTweetLength+1), ""); err == nil {
		t.Error("expected error for text over the limit")
	}
	if _, err := c.CreateTweet(ctx, "tok", strings.Repeat("é", MaxTweetLength), ""); err == nil {
		// The mock returns 404 for unconfigured routes, so validation passing means an upstream error.
		t.Error("expected upstream error from unconfigured mock")
	}
}

func TestTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"wrapped server error", fmt.Errorf("create tweet: %w", &APIError{StatusCode: http.StatusBadGateway}), true},
		{"forbidden", &APIError{StatusCode: http.StatusForbidden}, false},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Temporary(tt.err); got != tt.want {
				t.Errorf("Temporary(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
