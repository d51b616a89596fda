// Package store persists dashboard data: profiles, intent filters, matches,
// reply suggestions, scheduled content and analytics events.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
	ErrInvalid   = errors.New("store: invalid input")
)

// Field limits.
const (
	MaxKeywordLength = 64
	MaxContentLength = 280
)

// Store is the persistence surface used by the server and the monitor.
//
//nolint:interfacebloat // one store backs every dashboard resource
type Store interface {
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
	UpsertProfile(ctx context.Context, p *types.Profile) error

	ListFilters(ctx context.Context, userID string) ([]types.IntentFilter, error)
	CreateFilter(ctx context.Context, userID, keyword string) (*types.IntentFilter, error)
	SetFilterActive(ctx context.Context, userID string, id uuid.UUID, active bool) (*types.IntentFilter, error)
	DeleteFilter(ctx context.Context, userID string, id uuid.UUID) error
	ActiveFilters(ctx context.Context) (map[string][]string, error)

	SaveMatches(ctx context.Context, matches []types.MatchedPost) (int, error)
	ListMatches(ctx context.Context, userID string, limit int) ([]types.MatchedPost, error)

	SaveSuggestion(ctx context.Context, s *types.ReplySuggestion) error
	ListSuggestions(ctx context.Context, userID string, limit int) ([]types.ReplySuggestion, error)

	ScheduleContent(ctx context.Context, c *types.ScheduledContent) error
	ListContent(ctx context.Context, userID string) ([]types.ScheduledContent, error)
	DeleteContent(ctx context.Context, userID string, id uuid.UUID) error
	DueContent(ctx context.Context, now time.Time, limit int) ([]types.ScheduledContent, error)
	MarkContent(ctx context.Context, id uuid.UUID, status types.ContentStatus, tweetID, errMsg string) error

	RecordEvent(ctx context.Context, userID string, kind types.EventKind, count int64) error
	Summary(ctx context.Context, userID string, since time.Time) (*types.AnalyticsSummary, error)

	Close()
}

// NormalizeKeyword trims a keyword and checks its length.
func NormalizeKeyword(keyword string) (string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return "", fmt.Errorf("%w: keyword is empty", ErrInvalid)
	}
	if utf8.RuneCountInString(keyword) > MaxKeywordLength {
		return "", fmt.Errorf("%w: keyword longer than %d characters", ErrInvalid, MaxKeywordLength)
	}
	return keyword, nil
}

// ValidateContent checks scheduled content before it is stored.
func ValidateContent(c *types.ScheduledContent) error {
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalid)
	}
	if n := utf8.RuneCountInString(c.Content); n > MaxContentLength {
		return fmt.Errorf("%w: content is %d characters, limit is %d", ErrInvalid, n, MaxContentLength)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalid)
	}
	if c.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: missing schedule time", ErrInvalid)
	}
	return nil
}

// clampLimit bounds list sizes.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)
