// Package twitter provides X (Twitter) API v2 client functionality.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Client defaults.
const (
	DefaultBaseURL     = "https://api.twitter.com"
	DefaultHTTPTimeout = 30 * time.Second

	defaultRetryAttempts = 3
	initialRetryDelay    = 1 * time.Second
	maxRetryDelay        = 10 * time.Second

	minTokenLength  = 20
	maxTokenLength  = 512
	maxErrorBodyLen = 64 << 10
)

// Client handles all X API interactions.
type Client struct {
	httpClient  HTTPDoer
	baseURL     string
	bearerToken string
	retryDelay  time.Duration
	attempts    uint
}

// Config holds configuration for creating a new X client.
type Config struct {
	HTTPClient  HTTPDoer // nil = *http.Client with HTTPTimeout
	BearerToken string   // app-only token used for search
	BaseURL     string
	HTTPTimeout time.Duration
	RetryDelay  time.Duration
	MaxAttempts uint
}

// New creates a new X API client.
func New(cfg Config) (*Client, error) {
	if err := validateToken(cfg.BearerToken); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = initialRetryDelay
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultRetryAttempts
	}

	return &Client{
		httpClient:  cfg.HTTPClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		retryDelay:  cfg.RetryDelay,
		attempts:    cfg.MaxAttempts,
	}, nil
}

// validateToken performs a sanity check on a bearer token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no twitter bearer token configured")
	}
	if len(token) < minTokenLength || len(token) > maxTokenLength {
		return errors.New("invalid bearer token length")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return errors.New("invalid bearer token format")
	}
	return nil
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "component", "twitter", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "component", "twitter", "error", err)
	}
}

// doRequest makes an authenticated request with retry logic and returns the response body.
// Non-2xx responses are returned as *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, token string, body any) ([]byte, error) {
	apiURL := c.baseURL + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	slog.Debug("HTTP request", "component", "twitter", "method", method, "path", path)

	var respBody []byte
	err := c.retryWithBackoff(ctx, method+" "+path, func() error {
		var bodyReader io.Reader = http.NoBody
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer drainAndCloseBody(resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
			if err != nil {
				slog.Debug("Failed to read error body", "component", "twitter", "error", err)
			}
			apiErr := newAPIError(resp, errBody)
			if apiErr.retryable() {
				slog.Warn("Server error - will retry with backoff", "component", "twitter", "method", method, "path", path, "status", resp.StatusCode)
			}
			return apiErr
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("HTTP response", "component", "twitter", "method", method, "path", path, "bytes", len(respBody))
	return respBody, nil
}

// retryWithBackoff executes fn with exponential backoff and jitter.
// Only server errors and transport failures are retried; throttling and auth failures surface immediately.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(max(c.retryDelay/4, time.Microsecond)),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "twitter", "operation", operation, "attempt", n+1, "max_attempts", c.attempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if err == nil || ctx.Err() != nil {
				return false
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.retryable()
			}
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}
