package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CacheKey represents the canonical identity of a cached request.
type CacheKey struct {
	// Method is the request method (only safe reads are ever stored)
	Method string

	// URL is the absolute request URL
	URL *url.URL

	// Headers are the vary headers that take part in the identity
	Headers map[string]string
}

// KeyFromRequest builds the cache key for req. Only the headers listed in
// varyHeaders that are present on the request are part of the identity.
func KeyFromRequest(req *http.Request, varyHeaders []string) CacheKey {
	key := CacheKey{
		Method: req.Method,
		URL:    req.URL,
	}
	for _, name := range varyHeaders {
		if v := req.Header.Get(name); v != "" {
			if key.Headers == nil {
				key.Headers = make(map[string]string, len(varyHeaders))
			}
			key.Headers[strings.ToLower(name)] = v
		}
	}
	return key
}

// KeyFromURL builds a GET key for a raw URL string.
func KeyFromURL(rawURL string) (CacheKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CacheKey{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return CacheKey{}, fmt.Errorf("url %q is not absolute", rawURL)
	}
	return CacheKey{Method: http.MethodGet, URL: u}, nil
}

// String generates a deterministic cache key string.
// Format: METHOD scheme://host/path?sorted=query
// followed by one "\nname: value" line per vary header (sorted).
//
// Example:
//
//	GET https://app.example.com/api?action=fetchAll
func (k CacheKey) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" || method == http.MethodHead {
		// HEAD is answered from the GET entry
		method = http.MethodGet
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	if k.URL != nil {
		b.WriteString(canonicalURL(k.URL))
	}

	if len(k.Headers) > 0 {
		names := make([]string, 0, len(k.Headers))
		for name := range k.Headers {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fmt.Fprintf(&b, "\n%s: %s", name, k.Headers[name])
		}
	}

	return b.String()
}

// canonicalURL drops the fragment and re-encodes the query in sorted order.
// A query that does not parse keeps every raw pair, sorted but not decoded.
func canonicalURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if c.Path == "" {
		c.Path = "/"
	}
	if c.RawQuery != "" {
		c.RawQuery = canonicalQuery(c.RawQuery)
	}
	return c.String()
}

func canonicalQuery(raw string) string {
	if values, err := url.ParseQuery(raw); err == nil {
		return values.Encode()
	}
	pairs := strings.Split(raw, "&")
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}
