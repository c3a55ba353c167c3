// Package testutil provides testing utilities for the offline proxy.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable origin server for testing. It can be switched
// offline, in which case every connection is dropped without a response.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	offline  bool

	// Tracking
	RequestCount  int
	LastRequest   *http.Request
	requestsByURL map[string]int
}

// NewMockOrigin creates a new mock origin.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:      make(map[string]func(w http.ResponseWriter, r *http.Request)),
		requestsByURL: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		offline := mock.offline
		if !offline {
			mock.RequestCount++
			mock.requestsByURL[r.URL.RequestURI()]++
			mock.LastRequest = r.Clone(r.Context())
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if offline {
			dropConnection(w)
			return
		}

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock origin URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock origin.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetOffline makes the origin drop every connection (true) or serve again (false).
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequest = nil
	m.requestsByURL = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests served.
func (m *MockOrigin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestCountFor returns the number of requests served for a request URI
// (path and query).
func (m *MockOrigin) GetRequestCountFor(requestURI string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestsByURL[requestURI]
}

// defaultHandler echoes the request URI as a small JSON document.
func (m *MockOrigin) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
}

// dropConnection closes the client connection without writing a response,
// which the client sees as a transport error.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("mock origin: response writer cannot be hijacked")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewAssetResponse creates a 200 OK response with the given content type.
func NewAssetResponse(contentType, data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "max-age=3600",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
