// Package types contains shared data structures used across the agent.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"time"

	"github.com/google/uuid"
)

// UnknownAuthor is the handle used when a post's author cannot be resolved.
const UnknownAuthor = "unknown"

// PublicMetrics holds the engagement counters X reports for a post.
type PublicMetrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

// RawPost is a post as returned by the search API, before author enrichment.
type RawPost struct {
	CreatedAt time.Time      `json:"created_at"`
	Metrics   *PublicMetrics `json:"public_metrics,omitempty"`
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	AuthorID  string         `json:"author_id"`
	Lang      string         `json:"lang,omitempty"`
}

// Post is a normalized post with the author handle resolved.
type Post struct {
	CreatedAt      time.Time      `json:"created_at"`
	Metrics        *PublicMetrics `json:"public_metrics,omitempty"`
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	AuthorID       string         `json:"author_id"`
	AuthorUsername string         `json:"author_username"`
	Lang           string         `json:"lang,omitempty"`
}

// Author is the subset of a user profile needed to enrich posts.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Profile is a dashboard user's settings and connected X account.
type Profile struct {
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	UserID             string    `json:"user_id"`
	TwitterHandle      string    `json:"twitter_handle"`
	TwitterUserID      string    `json:"twitter_user_id"`
	TwitterAccessToken string    `json:"-"`
	DisplayName        string    `json:"display_name"`
	ProductDescription string    `json:"product_description"`
	Tone               string    `json:"tone"`
}

// IntentFilter is a keyword a user wants to watch for.
type IntentFilter struct {
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id"`
	Keyword   string    `json:"keyword"`
	ID        uuid.UUID `json:"id"`
	Active    bool      `json:"active"`
}

// ContentStatus is the publishing state of scheduled content.
type ContentStatus string

// Scheduled content states.
const (
	ContentPending ContentStatus = "pending"
	ContentPosted  ContentStatus = "posted"
	ContentFailed  ContentStatus = "failed"
)

// ScheduledContent is a post queued for publishing at a later time.
type ScheduledContent struct {
	ScheduledFor time.Time     `json:"scheduled_for"`
	CreatedAt    time.Time     `json:"created_at"`
	UserID       string        `json:"user_id"`
	Content      string        `json:"content"`
	Status       ContentStatus `json:"status"`
	TweetID      string        `json:"tweet_id,omitempty"`
	Error        string        `json:"error,omitempty"`
	ID           uuid.UUID     `json:"id"`
}

// ReplySuggestion is an AI-generated reply for a monitored post.
type ReplySuggestion struct {
	CreatedAt      time.Time `json:"created_at"`
	UserID         string    `json:"user_id"`
	PostID         string    `json:"post_id"`
	PostText       string    `json:"post_text"`
	AuthorUsername string    `json:"author_username"`
	Suggestion     string    `json:"suggestion"`
	ID             uuid.UUID `json:"id"`
}

// MatchedPost is a post found by passive monitoring of a user's intent filters.
type MatchedPost struct {
	MatchedAt time.Time `json:"matched_at"`
	UserID    string    `json:"user_id"`
	Keyword   string    `json:"keyword"`
	Post      Post      `json:"post"`
}

// EventKind names an analytics event.
type EventKind string

// Analytics event kinds.
const (
	EventMatch      EventKind = "match"
	EventSuggestion EventKind = "suggestion"
	EventGenerated  EventKind = "generated"
	EventPosted     EventKind = "posted"
	EventFailed     EventKind = "failed"
)

// AnalyticsSummary aggregates a user's events since a point in time.
type AnalyticsSummary struct {
	Since       time.Time `json:"since"`
	UserID      string    `json:"user_id"`
	Matches     int64     `json:"matches"`
	Suggestions int64     `json:"suggestions"`
	Generated   int64     `json:"generated"`
	Posted      int64     `json:"posted"`
	Failed      int64     `json:"failed"`
}
