package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/cache"
	"github.com/tweetpilot/tweetpilot/pkg/search"
)

// probeKeyword is searched when a connection test names no keywords.
const probeKeyword = "twitter"

// liveSearch runs a keyword search. Without keywords the user's active filters are used.
func (s *Server) liveSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Keywords) == 0 {
		kws, err := s.activeKeywords(r)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		req.Keywords = kws
	}

	res, err := s.searcher.Search(r.Context(), req)
	s.writeSearchResult(w, r, res, err)
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keywords []string `json:"keywords"`
	}
	// An empty body is allowed.
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON.")
		return
	}
	if len(req.Keywords) == 0 {
		req.Keywords = []string{probeKeyword}
	}
	res, err := s.searcher.Probe(r.Context(), req.Keywords)
	s.writeSearchResult(w, r, res, err)
}

func (s *Server) writeSearchResult(w http.ResponseWriter, r *http.Request, res *search.Result, err error) {
	if errors.Is(err, search.ErrNoKeywords) {
		writeError(w, http.StatusBadRequest, "no_keywords", "Add at least one keyword or intent filter.")
		return
	}
	if res == nil && r.Context().Err() != nil {
		slog.Debug("Client went away before search completed", "component", "http", "path", r.URL.Path, "error", err)
		return
	}
	if res == nil {
		slog.Error("Search failed without a result", "component", "http", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
		return
	}
	if err != nil {
		slog.Debug("Search returned a classified failure", "component", "http", "kind", res.Error, "error", err)
	}
	if res.Status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "900")
	}
	writeJSON(w, res.Status, res)
}

func (s *Server) activeKeywords(r *http.Request) ([]string, error) {
	filters, err := s.store.ListFilters(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		return nil, err
	}
	var kws []string
	for _, f := range filters {
		if f.Active {
			kws = append(kws, f.Keyword)
		}
	}
	return kws, nil
}

type cacheStatsResponse struct {
	cache.Stats
	Evictions int64 `json:"evictions"`
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{Stats: s.cache.Stats(), Evictions: s.cache.Evictions()})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	slog.Info("Search cache cleared", "component", "http", "user", auth.UserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) evictCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"evicted": s.cache.EvictExpired()})
}
