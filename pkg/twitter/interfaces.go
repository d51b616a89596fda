package twitter

import (
	"context"
	"net/http"
)

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API defines the X operations the agent depends on.
type API interface {
	SearchRecent(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	CreateTweet(ctx context.Context, userToken, text, inReplyTo string) (string, error)
}
