// Package testutil provides mock implementations and testing utilities for tweetpilot.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPDoer implements the HTTPDoer interfaces of the API clients for testing.
// Responses are keyed by method and URL path, so query parameters do not need to match.
type MockHTTPDoer struct {
	responses map[string][]mockResponse
	errors    map[string]error
	calls     []HTTPCall
	mu        sync.Mutex
}

type mockResponse struct {
	header http.Header
	body   []byte
	status int
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		responses: make(map[string][]mockResponse),
		errors:    make(map[string]error),
	}
}

// Do records the request and returns the next configured response.
// The last configured response for a key is repeated once the queue is drained.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})

	key := m.makeKey(req.Method, req.URL.Path)

	if err, ok := m.errors[key]; ok {
		return nil, err
	}

	queue, ok := m.responses[key]
	if !ok || len(queue) == 0 {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Body:       io.NopCloser(strings.NewReader(`{"title":"Not Found"}`)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	r := queue[0]
	if len(queue) > 1 {
		m.responses[key] = queue[1:]
	}
	return &http.Response{
		StatusCode: r.status,
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		Body:       io.NopCloser(bytes.NewReader(r.body)),
		Header:     r.header.Clone(),
		Request:    req,
	}, nil
}

// SetResponse queues a JSON response for a method and path.
func (m *MockHTTPDoer) SetResponse(method, path string, statusCode int, body any) {
	m.SetResponseWithHeaders(method, path, statusCode, body, nil)
}

// SetResponseWithHeaders queues a JSON response with extra headers for a method and path.
func (m *MockHTTPDoer) SetResponseWithHeaders(method, path string, statusCode int, body any, header http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bodyBytes []byte
	switch b := body.(type) {
	case nil:
	case string:
		bodyBytes = []byte(b)
	default:
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("failed to marshal response body: %v", err))
		}
	}
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Type", "application/json")

	key := m.makeKey(method, path)
	m.responses[key] = append(m.responses[key], mockResponse{status: statusCode, body: bodyBytes, header: header})
}

// SetError configures a transport error for a method and path.
func (m *MockHTTPDoer) SetError(method, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[m.makeKey(method, path)] = err
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Reset clears all configured responses and recorded calls.
func (m *MockHTTPDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string][]mockResponse)
	m.errors = make(map[string]error)
	m.calls = nil
}

func (*MockHTTPDoer) makeKey(method, path string) string {
	return method + ":" + path
}
