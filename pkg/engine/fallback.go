package engine

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// unavailableBody is returned for sensitive and volatile requests when the
// network is down and nothing can be served instead.
const unavailableBody = `{"error":true,"message":"Network unavailable"}`

// DefaultOfflinePage is served to navigation requests that miss the cache
// while offline.
const DefaultOfflinePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
</head>
<body>
<h1>You are offline</h1>
<p>This page has not been saved for offline use yet. It will load again once the connection is back.</p>
</body>
</html>
`

// HeaderOutcome names the response header describing how a response was produced.
const HeaderOutcome = "X-Offline-Proxy"

func newResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))

	var rc io.ReadCloser = io.NopCloser(bytes.NewReader(body))
	if req != nil && req.Method == http.MethodHead {
		rc = http.NoBody
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          rc,
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// unavailableJSON is the NetworkUnavailable response for API calls.
func unavailableJSON(req *http.Request) *http.Response {
	return newResponse(req, http.StatusServiceUnavailable, "application/json", []byte(unavailableBody))
}

// unavailableEmpty is the NetworkUnavailable response for non-navigation misses.
func unavailableEmpty(req *http.Request) *http.Response {
	return newResponse(req, http.StatusServiceUnavailable, "", nil)
}

func offlinePage(req *http.Request, page []byte) *http.Response {
	return newResponse(req, http.StatusOK, "text/html; charset=utf-8", page)
}

// IsNavigation reports whether req is a top-level document load.
// Sec-Fetch-Mode is authoritative when present; otherwise a GET that
// accepts HTML is treated as navigation.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if req.Method != http.MethodGet && req.Method != "" {
		return false
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}
