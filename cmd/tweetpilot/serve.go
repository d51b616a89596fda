package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/cache"
	"github.com/tweetpilot/tweetpilot/pkg/config"
	"github.com/tweetpilot/tweetpilot/pkg/llm"
	"github.com/tweetpilot/tweetpilot/pkg/monitor"
	"github.com/tweetpilot/tweetpilot/pkg/ratelimit"
	"github.com/tweetpilot/tweetpilot/pkg/search"
	"github.com/tweetpilot/tweetpilot/pkg/server"
	"github.com/tweetpilot/tweetpilot/pkg/store"
	"github.com/tweetpilot/tweetpilot/pkg/twitter"
	"github.com/tweetpilot/tweetpilot/pkg/types"
)

const (
	shutdownTimeout = 10 * time.Second
	metricsPrefix   = "tweetpilot_"
)

var errGenerationDisabled = errors.New("content generation is not configured")

func newServeCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background monitor.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, gf)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsReg := prometheus.WrapRegistererWithPrefix(metricsPrefix, reg)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tw, err := twitter.New(twitter.Config{
		BearerToken: cfg.Twitter.BearerToken,
		BaseURL:     cfg.Twitter.BaseURL,
		HTTPTimeout: cfg.Twitter.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create x client: %w", err)
	}

	searchCache := cache.NewSearchCache(cache.SearchConfig{})
	fetcher := search.New(search.Config{
		Cache:       searchCache,
		Authors:     cache.NewAuthorCache(0),
		API:         tw,
		Metrics:     search.NewMetrics(metricsReg, searchCache),
		CallTimeout: cfg.Search.CallTimeout,
	})

	generator, err := newGenerator(cfg, metricsReg)
	if err != nil {
		return err
	}

	provider, err := auth.NewJWTProvider(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Cookie:   cfg.Auth.Cookie,
	})
	if err != nil {
		return fmt.Errorf("create auth provider: %w", err)
	}

	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()

	var runner *monitor.Runner
	if cfg.Monitor.Enabled {
		runner = monitor.New(monitor.Config{
			Store:     st,
			Searcher:  fetcher,
			Publisher: tw,
			Cache:     searchCache,
			Metrics:   monitor.NewMetrics(metricsReg),
			Interval:  cfg.Monitor.Interval,
		})
	}

	srvCfg := server.Config{
		Store:     st,
		Searcher:  fetcher,
		Cache:     searchCache,
		Generator: generator,
		Auth:      provider,
		Limiter:   limiter,
		Gatherer:  reg,
		Admins:    cfg.Auth.Admins,
	}
	if runner != nil {
		srvCfg.Monitor = runner
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(srvCfg).Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server listening", "component", "http", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "component", "http")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if runner != nil {
		g.Go(func() error { return runner.Run(gctx) })
	}
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		slog.Warn("No database configured, using in-memory store", "component", "store")
		return store.NewMemory(), nil
	}
	m, err := store.NewMigrator(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	upErr := m.Up()
	if err := errors.Join(upErr, m.Close()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store.NewPostgres(ctx, cfg.Database.URL)
}

func newGenerator(cfg *config.Config, reg prometheus.Registerer) (llm.Generator, error) {
	if cfg.LLM.APIKey == "" {
		slog.Warn("No LLM api key configured, generation endpoints will fail", "component", "llm")
		return disabledGenerator{}, nil
	}
	client, err := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return llm.NewGenerator(client, llm.NewMetrics(reg)), nil
}

func newLimiter(cfg *config.Config) (ratelimit.Limiter, func()) {
	perHour := cfg.RateLimit.GenerationsPerHour
	if cfg.Redis.Addr == "" {
		return ratelimit.NewTokenBucket(perHour, time.Hour), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	slog.Info("Using shared rate limiter", "component", "ratelimit", "addr", cfg.Redis.Addr)
	return ratelimit.NewRedisWindow(client, int64(perHour), time.Hour), func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close redis client", "component", "ratelimit", "error", err)
		}
	}
}

type disabledGenerator struct{}

func (disabledGenerator) ReplySuggestion(context.Context, *types.Profile, types.Post) (string, error) {
	return "", errGenerationDisabled
}

func (disabledGenerator) Promotion(context.Context, *types.Profile, string) (string, error) {
	return "", errGenerationDisabled
}
