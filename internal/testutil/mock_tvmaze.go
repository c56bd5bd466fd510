// Package testutil provides testing utilities for the TVmaze scraper.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines one scripted response of the mock upstream.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTVMaze is a scripted TVmaze API server.
//
// Responses are registered per request URI (path plus query). When several
// responses are queued for a URI they are served in order and the last one
// repeats. Unknown URIs answer with 404.
type MockTVMaze struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string][]MockResponse
	served    map[string]int
	requests  []string
}

// NewMockTVMaze starts a mock server.
func NewMockTVMaze() *MockTVMaze {
	mock := &MockTVMaze{
		responses: make(map[string][]MockResponse),
		served:    make(map[string]int),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the base URL of the mock server.
func (m *MockTVMaze) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTVMaze) Close() {
	m.server.Close()
}

// Enqueue appends responses for uri, e.g. "/shows?page=1".
func (m *MockTVMaze) Enqueue(uri string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[uri] = append(m.responses[uri], resps...)
}

// SetPage configures the JSON body served for a catalog page.
func (m *MockTVMaze) SetPage(page int, body string) {
	m.Enqueue(PageURI(page), JSONResponse(body))
}

// SetCast configures the JSON body served for a show's cast.
func (m *MockTVMaze) SetCast(showID int, body string) {
	m.Enqueue(CastURI(showID), JSONResponse(body))
}

// RequestCount returns how often uri was requested.
func (m *MockTVMaze) RequestCount(uri string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served[uri]
}

// TotalRequests returns the number of requests received.
func (m *MockTVMaze) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the request URIs in arrival order.
func (m *MockTVMaze) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

func (m *MockTVMaze) handle(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()

	m.mu.Lock()
	m.requests = append(m.requests, uri)
	n := m.served[uri]
	m.served[uri] = n + 1
	queue := m.responses[uri]
	m.mu.Unlock()

	if len(queue) == 0 {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"name":"Not Found","status":404}`))
		return
	}
	if n >= len(queue) {
		n = len(queue) - 1
	}
	resp := queue[n]

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// PageURI is the request URI of a catalog page.
func PageURI(page int) string {
	return fmt.Sprintf("/shows?page=%d", page)
}

// CastURI is the request URI of a show's cast.
func CastURI(showID int) string {
	return fmt.Sprintf("/shows/%d/cast", showID)
}

// JSONResponse creates a 200 OK response with a JSON body.
func JSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=UTF-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"name":"Too Many Requests","status":429}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=UTF-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal Server Error",
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"name":"Not Found","status":404}`,
	}
}
