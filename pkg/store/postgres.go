package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

const uniqueViolation = "23505"

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// GetProfile returns a user's profile.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var pr types.Profile
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, twitter_handle, twitter_user_id, twitter_access_token,
		       display_name, product_description, tone, created_at, updated_at
		FROM profiles WHERE user_id = $1`, userID,
	).Scan(&pr.UserID, &pr.TwitterHandle, &pr.TwitterUserID, &pr.TwitterAccessToken,
		&pr.DisplayName, &pr.ProductDescription, &pr.Tone, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &pr, nil
}

// UpsertProfile creates or updates a profile. An empty access token keeps the stored one.
func (p *Postgres) UpsertProfile(ctx context.Context, pr *types.Profile) error {
	if pr.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalid)
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO profiles (user_id, twitter_handle, twitter_user_id, twitter_access_token,
		                      display_name, product_description, tone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			twitter_handle       = EXCLUDED.twitter_handle,
			twitter_user_id      = EXCLUDED.twitter_user_id,
			twitter_access_token = COALESCE(NULLIF(EXCLUDED.twitter_access_token, ''), profiles.twitter_access_token),
			display_name         = EXCLUDED.display_name,
			product_description  = EXCLUDED.product_description,
			tone                 = EXCLUDED.tone,
			updated_at           = now()
		RETURNING twitter_access_token, created_at, updated_at`,
		pr.UserID, pr.TwitterHandle, pr.TwitterUserID, pr.TwitterAccessToken,
		pr.DisplayName, pr.ProductDescription, pr.Tone,
	).Scan(&pr.TwitterAccessToken, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", mapErr(err))
	}
	return nil
}

const filterColumns = `id, user_id, keyword, active, created_at`

func scanFilter(row pgx.Row) (types.IntentFilter, error) {
	var f types.IntentFilter
	err := row.Scan(&f.ID, &f.UserID, &f.Keyword, &f.Active, &f.CreatedAt)
	return f, err
}

// ListFilters returns a user's filters, oldest first.
func (p *Postgres) ListFilters(ctx context.Context, userID string) ([]types.IntentFilter, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+filterColumns+` FROM intent_filters
		WHERE user_id = $1 ORDER BY created_at, keyword`, userID)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.IntentFilter, error) {
		return scanFilter(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	if out == nil {
		out = []types.IntentFilter{}
	}
	return out, nil
}

// CreateFilter adds an active filter. Keywords are unique per user, ignoring case.
func (p *Postgres) CreateFilter(ctx context.Context, userID, keyword string) (*types.IntentFilter, error) {
	keyword, err := NormalizeKeyword(keyword)
	if err != nil {
		return nil, err
	}
	f, err := scanFilter(p.pool.QueryRow(ctx, `
		INSERT INTO intent_filters (id, user_id, keyword, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING `+filterColumns, uuid.New(), userID, keyword))
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

// SetFilterActive toggles a user's filter.
func (p *Postgres) SetFilterActive(ctx context.Context, userID string, id uuid.UUID, active bool) (*types.IntentFilter, error) {
	f, err := scanFilter(p.pool.QueryRow(ctx, `
		UPDATE intent_filters SET active = $3
		WHERE id = $1 AND user_id = $2
		RETURNING `+filterColumns, id, userID, active))
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

// DeleteFilter removes a user's filter.
func (p *Postgres) DeleteFilter(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM intent_filters WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveFilters maps each user with active filters to their sorted keywords.
func (p *Postgres) ActiveFilters(ctx context.Context) (map[string][]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id, keyword FROM intent_filters
		WHERE active ORDER BY user_id, keyword`)
	if err != nil {
		return nil, fmt.Errorf("active filters: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var userID, keyword string
		if err := rows.Scan(&userID, &keyword); err != nil {
			return nil, fmt.Errorf("active filters: %w", err)
		}
		out[userID] = append(out[userID], keyword)
	}
	return out, rows.Err()
}

// SaveMatches stores matches not seen before and returns how many were new.
func (p *Postgres) SaveMatches(ctx context.Context, matches []types.MatchedPost) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, mp := range matches {
		post, err := json.Marshal(mp.Post)
		if err != nil {
			return 0, fmt.Errorf("encode post %s: %w", mp.Post.ID, err)
		}
		matchedAt := mp.MatchedAt
		if matchedAt.IsZero() {
			matchedAt = time.Now()
		}
		batch.Queue(`INSERT INTO matched_posts (user_id, post_id, keyword, post, matched_at)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (user_id, post_id) DO NOTHING`,
			mp.UserID, mp.Post.ID, mp.Keyword, post, matchedAt)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer func() {
		if err := br.Close(); err != nil {
			slog.Warn("Failed to close batch", "component", "store", "error", err)
		}
	}()

	added := 0
	for range matches {
		tag, err := br.Exec()
		if err != nil {
			return added, fmt.Errorf("save matches: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// ListMatches returns a user's most recent matches.
func (p *Postgres) ListMatches(ctx context.Context, userID string, limit int) ([]types.MatchedPost, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id, keyword, post, matched_at FROM matched_posts
		WHERE user_id = $1 ORDER BY matched_at DESC, post_id DESC LIMIT $2`,
		userID, clampLimit(limit, defaultListLimit, maxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	out := []types.MatchedPost{}
	for rows.Next() {
		var mp types.MatchedPost
		var post []byte
		if err := rows.Scan(&mp.UserID, &mp.Keyword, &post, &mp.MatchedAt); err != nil {
			return nil, fmt.Errorf("list matches: %w", err)
		}
		if err := json.Unmarshal(post, &mp.Post); err != nil {
			return nil, fmt.Errorf("decode matched post: %w", err)
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}

// SaveSuggestion stores a generated reply suggestion.
func (p *Postgres) SaveSuggestion(ctx context.Context, s *types.ReplySuggestion) error {
	if s.UserID == "" || s.Suggestion == "" {
		return fmt.Errorf("%w: suggestion needs a user and text", ErrInvalid)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO reply_suggestions (id, user_id, post_id, post_text, author_username, suggestion)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		s.ID, s.UserID, s.PostID, s.PostText, s.AuthorUsername, s.Suggestion,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save suggestion: %w", mapErr(err))
	}
	return nil
}

// ListSuggestions returns a user's most recent suggestions.
func (p *Postgres) ListSuggestions(ctx context.Context, userID string, limit int) ([]types.ReplySuggestion, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, post_id, post_text, author_username, suggestion, created_at
		FROM reply_suggestions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		userID, clampLimit(limit, defaultListLimit, maxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ReplySuggestion, error) {
		var s types.ReplySuggestion
		err := row.Scan(&s.ID, &s.UserID, &s.PostID, &s.PostText, &s.AuthorUsername, &s.Suggestion, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	if out == nil {
		out = []types.ReplySuggestion{}
	}
	return out, nil
}

const contentColumns = `id, user_id, content, scheduled_for, status, tweet_id, error, created_at`

func collectContent(rows pgx.Rows) ([]types.ScheduledContent, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ScheduledContent, error) {
		var c types.ScheduledContent
		var status string
		err := row.Scan(&c.ID, &c.UserID, &c.Content, &c.ScheduledFor, &status, &c.TweetID, &c.Error, &c.CreatedAt)
		c.Status = types.ContentStatus(status)
		return c, err
	})
	if out == nil {
		out = []types.ScheduledContent{}
	}
	return out, err
}

// ScheduleContent queues content for publishing.
func (p *Postgres) ScheduleContent(ctx context.Context, c *types.ScheduledContent) error {
	if err := ValidateContent(c); err != nil {
		return err
	}
	c.ID = uuid.New()
	c.Status = types.ContentPending
	err := p.pool.QueryRow(ctx, `
		INSERT INTO scheduled_content (id, user_id, content, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		c.ID, c.UserID, c.Content, c.ScheduledFor.UTC(), string(c.Status),
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("schedule content: %w", mapErr(err))
	}
	return nil
}

// ListContent returns a user's scheduled content ordered by schedule time.
func (p *Postgres) ListContent(ctx context.Context, userID string) ([]types.ScheduledContent, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+contentColumns+` FROM scheduled_content
		WHERE user_id = $1 ORDER BY scheduled_for, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	out, err := collectContent(rows)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return out, nil
}

// DeleteContent removes a user's pending content.
func (p *Postgres) DeleteContent(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM scheduled_content
		WHERE id = $1 AND user_id = $2 AND status = 'pending'`, id, userID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DueContent returns pending content scheduled at or before now.
func (p *Postgres) DueContent(ctx context.Context, now time.Time, limit int) ([]types.ScheduledContent, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+contentColumns+` FROM scheduled_content
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for, id LIMIT $2`,
		now.UTC(), clampLimit(limit, defaultListLimit, maxListLimit))
	if err != nil {
		return nil, fmt.Errorf("due content: %w", err)
	}
	out, err := collectContent(rows)
	if err != nil {
		return nil, fmt.Errorf("due content: %w", err)
	}
	return out, nil
}

// MarkContent records the outcome of a publish attempt.
func (p *Postgres) MarkContent(ctx context.Context, id uuid.UUID, status types.ContentStatus, tweetID, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE scheduled_content
		SET status = $2, tweet_id = $3, error = $4 WHERE id = $1`,
		id, string(status), tweetID, errMsg)
	if err != nil {
		return fmt.Errorf("mark content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordEvent appends an analytics event.
func (p *Postgres) RecordEvent(ctx context.Context, userID string, kind types.EventKind, count int64) error {
	if count <= 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `INSERT INTO analytics_events (user_id, kind, count) VALUES ($1, $2, $3)`,
		userID, string(kind), count); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Summary aggregates a user's events since a point in time.
func (p *Postgres) Summary(ctx context.Context, userID string, since time.Time) (*types.AnalyticsSummary, error) {
	rows, err := p.pool.Query(ctx, `SELECT kind, COALESCE(SUM(count), 0)::BIGINT FROM analytics_events
		WHERE user_id = $1 AND created_at >= $2 GROUP BY kind`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	s := &types.AnalyticsSummary{UserID: userID, Since: since.UTC()}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("summary: %w", err)
		}
		addEvent(s, types.EventKind(kind), n)
	}
	return s, rows.Err()
}
