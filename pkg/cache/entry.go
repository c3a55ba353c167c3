package cache

import (
	"net/http"
	"time"
)

// CacheEntry represents a stored response snapshot.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data" msgpack:"data"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code" msgpack:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers" msgpack:"headers"`

	// CachedAt is when the response was stored
	CachedAt time.Time `json:"cached_at" msgpack:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e *CacheEntry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}

// IsStorableStatus reports whether a response with this status may be written
// to the store. Partial content is never stored.
func IsStorableStatus(status int) bool {
	return status >= 200 && status < 300 && status != http.StatusPartialContent
}
