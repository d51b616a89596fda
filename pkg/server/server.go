// Package server exposes the dashboard JSON API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/cache"
	"github.com/tweetpilot/tweetpilot/pkg/llm"
	"github.com/tweetpilot/tweetpilot/pkg/monitor"
	"github.com/tweetpilot/tweetpilot/pkg/ratelimit"
	"github.com/tweetpilot/tweetpilot/pkg/search"
	"github.com/tweetpilot/tweetpilot/pkg/store"
)

// Searcher is the keyword search surface. *search.Fetcher implements it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	Probe(ctx context.Context, keywords []string) (*search.Result, error)
}

// Health reports on the background loop. *monitor.Runner implements it.
type Health interface {
	Stats() monitor.Stats
	Stale(now time.Time) bool
}

// Config wires the server's dependencies. Monitor and Gatherer may be nil.
type Config struct {
	Store     store.Store
	Searcher  Searcher
	Cache     *cache.SearchCache
	Generator llm.Generator
	Auth      auth.Provider
	Limiter   ratelimit.Limiter
	Monitor   Health
	Gatherer  prometheus.Gatherer
	Now       func() time.Time
	Admins    []string
}

// Server handles HTTP requests.
type Server struct {
	store     store.Store
	searcher  Searcher
	cache     *cache.SearchCache
	generator llm.Generator
	auth      auth.Provider
	limiter   ratelimit.Limiter
	monitor   Health
	gatherer  prometheus.Gatherer
	now       func() time.Time
	admins    []string
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewTokenBucket(ratelimit.DefaultGenerationsPerHour, time.Hour)
	}
	return &Server{
		store:     cfg.Store,
		searcher:  cfg.Searcher,
		cache:     cfg.Cache,
		generator: cfg.Generator,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		monitor:   cfg.Monitor,
		gatherer:  cfg.Gatherer,
		now:       cfg.Now,
		admins:    cfg.Admins,
	}
}

// Handler returns the routed handler with logging and panic recovery applied.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/profile", s.getProfile)
	api.HandleFunc("PUT /api/profile", s.putProfile)

	api.HandleFunc("GET /api/intent-filters", s.listFilters)
	api.HandleFunc("POST /api/intent-filters", s.createFilter)
	api.HandleFunc("PATCH /api/intent-filters/{id}", s.updateFilter)
	api.HandleFunc("DELETE /api/intent-filters/{id}", s.deleteFilter)

	api.HandleFunc("POST /api/search/live", s.liveSearch)
	api.HandleFunc("POST /api/twitter/test", s.testConnection)
	api.HandleFunc("GET /api/matches", s.listMatches)

	limited := ratelimit.Middleware(s.limiter, func(r *http.Request) string {
		return auth.UserID(r.Context())
	}, time.Hour)
	api.HandleFunc("GET /api/suggestions", s.listSuggestions)
	api.Handle("POST /api/suggestions", limited(http.HandlerFunc(s.createSuggestion)))
	api.Handle("POST /api/content/generate", limited(http.HandlerFunc(s.generateContent)))

	api.HandleFunc("GET /api/content-schedule", s.listContent)
	api.HandleFunc("POST /api/content-schedule", s.scheduleContent)
	api.HandleFunc("DELETE /api/content-schedule/{id}", s.deleteContent)

	api.HandleFunc("GET /api/analytics", s.analytics)

	admin := auth.RequireAdmin(s.admins)
	api.Handle("GET /api/admin/cache", admin(http.HandlerFunc(s.cacheStats)))
	api.Handle("DELETE /api/admin/cache", admin(http.HandlerFunc(s.clearCache)))
	api.Handle("POST /api/admin/cache/evict", admin(http.HandlerFunc(s.evictCache)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/api/", auth.Middleware(s.auth)(api))

	return recovery(logRequest(mux))
}

type healthResponse struct {
	Monitor      *monitor.Stats `json:"monitor,omitempty"`
	Status       string         `json:"status"`
	CacheEntries int            `json:"cache_entries"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if s.cache != nil {
		resp.CacheEntries = s.cache.Len()
	}
	if s.monitor != nil {
		stats := s.monitor.Stats()
		resp.Monitor = &stats
		if s.monitor.Stale(s.now()) {
			resp.Status = "stale"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "HTTP request", "component", "http",
			"method", r.Method, "path", r.URL.Path, "status", rw.status,
			"duration", time.Since(start))
	})
}

func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic in handler", "component", "http", "path", r.URL.Path, "panic", err)
				writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
