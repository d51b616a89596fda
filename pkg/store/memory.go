package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

type event struct {
	at     time.Time
	userID string
	kind   types.EventKind
	count  int64
}

// Memory is an in-process Store for tests and database-less development.
type Memory struct {
	now         func() time.Time
	profiles    map[string]types.Profile
	filters     map[uuid.UUID]types.IntentFilter
	matches     map[string]types.MatchedPost // user id + "/" + post id
	content     map[uuid.UUID]types.ScheduledContent
	suggestions []types.ReplySuggestion
	events      []event
	mu          sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		profiles: make(map[string]types.Profile),
		filters:  make(map[uuid.UUID]types.IntentFilter),
		matches:  make(map[string]types.MatchedPost),
		content:  make(map[uuid.UUID]types.ScheduledContent),
	}
}

// SetClock replaces the clock used for timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// GetProfile returns a user's profile.
func (m *Memory) GetProfile(_ context.Context, userID string) (*types.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// UpsertProfile creates or updates a profile. An empty access token keeps the stored one.
func (m *Memory) UpsertProfile(_ context.Context, p *types.Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if old, ok := m.profiles[p.UserID]; ok {
		p.CreatedAt = old.CreatedAt
		if p.TwitterAccessToken == "" {
			p.TwitterAccessToken = old.TwitterAccessToken
		}
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.profiles[p.UserID] = *p
	return nil
}

// ListFilters returns a user's filters, oldest first.
func (m *Memory) ListFilters(_ context.Context, userID string) ([]types.IntentFilter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []types.IntentFilter{}
	for _, f := range m.filters {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b types.IntentFilter) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.Keyword, b.Keyword))
	})
	return out, nil
}

// CreateFilter adds an active filter. Keywords are unique per user, ignoring case.
func (m *Memory) CreateFilter(_ context.Context, userID, keyword string) (*types.IntentFilter, error) {
	keyword, err := NormalizeKeyword(keyword)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.filters {
		if f.UserID == userID && strings.EqualFold(f.Keyword, keyword) {
			return nil, ErrDuplicate
		}
	}
	f := types.IntentFilter{
		ID:        uuid.New(),
		UserID:    userID,
		Keyword:   keyword,
		Active:    true,
		CreatedAt: m.now().UTC(),
	}
	m.filters[f.ID] = f
	return &f, nil
}

// SetFilterActive toggles a user's filter.
func (m *Memory) SetFilterActive(_ context.Context, userID string, id uuid.UUID, active bool) (*types.IntentFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.filters[id]
	if !ok || f.UserID != userID {
		return nil, ErrNotFound
	}
	f.Active = active
	m.filters[id] = f
	return &f, nil
}

// DeleteFilter removes a user's filter.
func (m *Memory) DeleteFilter(_ context.Context, userID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.filters[id]
	if !ok || f.UserID != userID {
		return ErrNotFound
	}
	delete(m.filters, id)
	return nil
}

// ActiveFilters maps each user with active filters to their sorted keywords.
func (m *Memory) ActiveFilters(_ context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]string)
	for _, f := range m.filters {
		if f.Active {
			out[f.UserID] = append(out[f.UserID], f.Keyword)
		}
	}
	for _, kws := range out {
		slices.Sort(kws)
	}
	return out, nil
}

// SaveMatches stores matches not seen before and returns how many were new.
func (m *Memory) SaveMatches(_ context.Context, matches []types.MatchedPost) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, mp := range matches {
		key := mp.UserID + "/" + mp.Post.ID
		if _, ok := m.matches[key]; ok {
			continue
		}
		if mp.MatchedAt.IsZero() {
			mp.MatchedAt = m.now().UTC()
		}
		m.matches[key] = mp
		added++
	}
	return added, nil
}

// ListMatches returns a user's most recent matches.
func (m *Memory) ListMatches(_ context.Context, userID string, limit int) ([]types.MatchedPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []types.MatchedPost{}
	for _, mp := range m.matches {
		if mp.UserID == userID {
			out = append(out, mp)
		}
	}
	slices.SortFunc(out, func(a, b types.MatchedPost) int {
		return cmp.Or(b.MatchedAt.Compare(a.MatchedAt), strings.Compare(b.Post.ID, a.Post.ID))
	})
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSuggestion stores a generated reply suggestion.
func (m *Memory) SaveSuggestion(_ context.Context, s *types.ReplySuggestion) error {
	if s.UserID == "" || s.Suggestion == "" {
		return fmt.Errorf("%w: suggestion needs a user and text", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	m.suggestions = append(m.suggestions, *s)
	return nil
}

// ListSuggestions returns a user's most recent suggestions.
func (m *Memory) ListSuggestions(_ context.Context, userID string, limit int) ([]types.ReplySuggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []types.ReplySuggestion{}
	for i := len(m.suggestions) - 1; i >= 0; i-- {
		if m.suggestions[i].UserID == userID {
			out = append(out, m.suggestions[i])
		}
	}
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ScheduleContent queues content for publishing.
func (m *Memory) ScheduleContent(_ context.Context, c *types.ScheduledContent) error {
	if err := ValidateContent(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = uuid.New()
	c.Status = types.ContentPending
	c.CreatedAt = m.now().UTC()
	c.ScheduledFor = c.ScheduledFor.UTC()
	m.content[c.ID] = *c
	return nil
}

// ListContent returns a user's scheduled content ordered by schedule time.
func (m *Memory) ListContent(_ context.Context, userID string) ([]types.ScheduledContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []types.ScheduledContent{}
	for _, c := range m.content {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sortContent(out)
	return out, nil
}

// DeleteContent removes a user's pending content.
func (m *Memory) DeleteContent(_ context.Context, userID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.content[id]
	if !ok || c.UserID != userID || c.Status != types.ContentPending {
		return ErrNotFound
	}
	delete(m.content, id)
	return nil
}

// DueContent returns pending content scheduled at or before now.
func (m *Memory) DueContent(_ context.Context, now time.Time, limit int) ([]types.ScheduledContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []types.ScheduledContent{}
	for _, c := range m.content {
		if c.Status == types.ContentPending && !c.ScheduledFor.After(now) {
			out = append(out, c)
		}
	}
	sortContent(out)
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkContent records the outcome of a publish attempt.
func (m *Memory) MarkContent(_ context.Context, id uuid.UUID, status types.ContentStatus, tweetID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.content[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.TweetID = tweetID
	c.Error = errMsg
	m.content[id] = c
	return nil
}

// RecordEvent appends an analytics event.
func (m *Memory) RecordEvent(_ context.Context, userID string, kind types.EventKind, count int64) error {
	if count <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{userID: userID, kind: kind, count: count, at: m.now().UTC()})
	return nil
}

// Summary aggregates a user's events since a point in time.
func (m *Memory) Summary(_ context.Context, userID string, since time.Time) (*types.AnalyticsSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &types.AnalyticsSummary{UserID: userID, Since: since.UTC()}
	for _, e := range m.events {
		if e.userID != userID || e.at.Before(since) {
			continue
		}
		addEvent(s, e.kind, e.count)
	}
	return s, nil
}

// Close is a no-op.
func (*Memory) Close() {}

func addEvent(s *types.AnalyticsSummary, kind types.EventKind, n int64) {
	switch kind {
	case types.EventMatch:
		s.Matches += n
	case types.EventSuggestion:
		s.Suggestions += n
	case types.EventGenerated:
		s.Generated += n
	case types.EventPosted:
		s.Posted += n
	case types.EventFailed:
		s.Failed += n
	}
}

func sortContent(cs []types.ScheduledContent) {
	slices.SortFunc(cs, func(a, b types.ScheduledContent) int {
		return cmp.Or(a.ScheduledFor.Compare(b.ScheduledFor), strings.Compare(a.ID.String(), b.ID.String()))
	})
}
