package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ResponseToEntry converts an HTTP response to a CacheEntry.
// The response body is restored after reading so the caller can still use it.
func ResponseToEntry(resp *http.Response) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &CacheEntry{
		Data:       body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   time.Now(),
	}, nil
}

// EntryToResponse rebuilds an HTTP response from a cache entry.
// req becomes the response's Request and may be nil.
func EntryToResponse(entry *CacheEntry, req *http.Request) *http.Response {
	if entry == nil {
		return nil
	}

	header := entry.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Data)))

	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	var body io.ReadCloser = io.NopCloser(bytes.NewReader(entry.Data))
	if req != nil && req.Method == http.MethodHead {
		body = http.NoBody
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}
