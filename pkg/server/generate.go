package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/llm"
	"github.com/tweetpilot/tweetpilot/pkg/store"
	"github.com/tweetpilot/tweetpilot/pkg/types"
)

func (s *Server) listSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0, 1, maxListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200.")
		return
	}
	out, err := s.store.ListSuggestions(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type suggestionRequest struct {
	PostID         string `json:"post_id"`
	PostText       string `json:"post_text"`
	AuthorUsername string `json:"author_username"`
}

func (s *Server) createSuggestion(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PostID) == "" || strings.TrimSpace(req.PostText) == "" {
		writeError(w, http.StatusBadRequest, "invalid", "post_id and post_text are required.")
		return
	}
	userID := auth.UserID(r.Context())
	profile, ok := s.profileOrNil(w, r, userID)
	if !ok {
		return
	}

	post := types.Post{ID: req.PostID, Text: req.PostText, AuthorUsername: req.AuthorUsername}
	text, err := s.generator.ReplySuggestion(r.Context(), profile, post)
	if err != nil {
		writeGenerationError(w, err)
		return
	}

	sugg := &types.ReplySuggestion{
		UserID:         userID,
		PostID:         req.PostID,
		PostText:       req.PostText,
		AuthorUsername: req.AuthorUsername,
		Suggestion:     text,
	}
	if err := s.store.SaveSuggestion(r.Context(), sugg); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := s.store.RecordEvent(r.Context(), userID, types.EventSuggestion, 1); err != nil {
		slog.Warn("Failed to record suggestion event", "component", "http", "user", userID, "error", err)
	}
	writeJSON(w, http.StatusCreated, sugg)
}

type generateRequest struct {
	ScheduleFor *time.Time `json:"schedule_for,omitempty"`
	Topic       string     `json:"topic"`
}

type generateResponse struct {
	Scheduled *types.ScheduledContent `json:"scheduled,omitempty"`
	Content   string                  `json:"content"`
}

// generateContent drafts a promotional post and optionally schedules it.
func (s *Server) generateContent(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := auth.UserID(r.Context())
	profile, ok := s.profileOrNil(w, r, userID)
	if !ok {
		return
	}

	text, err := s.generator.Promotion(r.Context(), profile, req.Topic)
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	if err := s.store.RecordEvent(r.Context(), userID, types.EventGenerated, 1); err != nil {
		slog.Warn("Failed to record generation event", "component", "http", "user", userID, "error", err)
	}

	resp := generateResponse{Content: text}
	if req.ScheduleFor != nil {
		c := &types.ScheduledContent{UserID: userID, Content: text, ScheduledFor: *req.ScheduleFor}
		if err := s.store.ScheduleContent(r.Context(), c); err != nil {
			writeStoreError(w, r, err)
			return
		}
		resp.Scheduled = c
	}
	writeJSON(w, http.StatusOK, resp)
}

// profileOrNil loads the user's profile; a missing profile is not an error.
func (s *Server) profileOrNil(w http.ResponseWriter, r *http.Request, userID string) (*types.Profile, bool) {
	p, err := s.store.GetProfile(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, true
	}
	if err != nil {
		writeStoreError(w, r, err)
		return nil, false
	}
	return p, true
}

func writeGenerationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		slog.Warn("Content generation throttled", "component", "http", "error", err)
		writeError(w, http.StatusTooManyRequests, "llm_rate_limited", "Content generation is busy. Try again shortly.")
	case errors.Is(err, llm.ErrEmptyOutput):
		writeError(w, http.StatusBadGateway, "empty_output", "The model returned no usable text. Try again.")
	default:
		slog.Error("Content generation failed", "component", "http", "error", err)
		writeError(w, http.StatusBadGateway, "llm_unavailable", "Content generation is unavailable.")
	}
}
