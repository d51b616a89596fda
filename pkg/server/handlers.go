package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/store"
	"github.com/tweetpilot/tweetpilot/pkg/types"
)

const (
	defaultAnalyticsDays = 7
	maxAnalyticsDays     = 90
	maxListLimit         = 200
)

type profileResponse struct {
	*types.Profile
	TwitterConnected bool `json:"twitter_connected"`
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	p, err := s.store.GetProfile(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, profileResponse{Profile: &types.Profile{UserID: userID}})
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, TwitterConnected: p.TwitterAccessToken != ""})
}

type profileRequest struct {
	TwitterHandle      string `json:"twitter_handle"`
	TwitterUserID      string `json:"twitter_user_id"`
	TwitterAccessToken string `json:"twitter_access_token"`
	DisplayName        string `json:"display_name"`
	ProductDescription string `json:"product_description"`
	Tone               string `json:"tone"`
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := &types.Profile{
		UserID:             auth.UserID(r.Context()),
		TwitterHandle:      req.TwitterHandle,
		TwitterUserID:      req.TwitterUserID,
		TwitterAccessToken: req.TwitterAccessToken,
		DisplayName:        req.DisplayName,
		ProductDescription: req.ProductDescription,
		Tone:               req.Tone,
	}
	if err := s.store.UpsertProfile(r.Context(), p); err != nil {
		writeStoreError(w, r, err)
		return
	}
	// Re-read so the response reflects a token kept from an earlier save.
	saved, err := s.store.GetProfile(r.Context(), p.UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: saved, TwitterConnected: saved.TwitterAccessToken != ""})
}

func (s *Server) listFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.store.ListFilters(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, filters)
}

func (s *Server) createFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keyword string `json:"keyword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := s.store.CreateFilter(r.Context(), auth.UserID(r.Context()), req.Keyword)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) updateFilter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "invalid", "active is required.")
		return
	}
	f, err := s.store.SetFilterActive(r.Context(), auth.UserID(r.Context()), id, *req.Active)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) deleteFilter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteFilter(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0, 1, maxListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200.")
		return
	}
	matches, err := s.store.ListMatches(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) listContent(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListContent(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type scheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Content      string    `json:"content"`
}

func (s *Server) scheduleContent(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c := &types.ScheduledContent{
		UserID:       auth.UserID(r.Context()),
		Content:      req.Content,
		ScheduledFor: req.ScheduledFor,
	}
	if err := s.store.ScheduleContent(r.Context(), c); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteContent(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", defaultAnalyticsDays, 1, maxAnalyticsDays)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_days", "days must be between 1 and 90.")
		return
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	sum, err := s.store.Summary(r.Context(), auth.UserID(r.Context()), since)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
