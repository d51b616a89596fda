package twitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for upstream failure classes. Match with errors.Is.
var (
	ErrRateLimited  = errors.New("twitter: rate limited")
	ErrUnauthorized = errors.New("twitter: unauthorized")
)

// APIError is a non-2xx response from the X API.
type APIError struct {
	ResetAt    time.Time // zero unless the response carried x-rate-limit-reset
	Title      string
	Detail     string
	StatusCode int
}

func (e *APIError) Error() string {
	msg := e.Title
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("twitter api: status %d: %s", e.StatusCode, msg)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	default:
		return false
	}
}

// Temporary reports whether err is throttling or a server-side failure that a later
// attempt may get past.
func Temporary(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.retryable()
}

// retryable reports whether the request may succeed on a later attempt.
func (e *APIError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError && e.StatusCode < 600
}

// newAPIError builds an APIError from a response whose body has been read.
func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &problem); err == nil {
		apiErr.Title = problem.Title
		apiErr.Detail = problem.Detail
		if apiErr.Detail == "" && len(problem.Errors) > 0 {
			apiErr.Detail = problem.Errors[0].Message
		}
	}

	if reset := resp.Header.Get("x-rate-limit-reset"); reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
			apiErr.ResetAt = time.Unix(secs, 0).UTC()
		}
	}
	return apiErr
}
