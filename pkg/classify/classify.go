// Package classify assigns intercepted requests to a caching class.
//
// Classification is a pure function of method and URL. Rules are evaluated in
// order and the first match wins, so the most restrictive class is listed
// first: Sensitive, then VolatileData, then StaticAsset. Anything else is
// Unclassified.
package classify

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Classification is the caching category of a request.
type Classification int

const (
	// Unclassified requests get the same cache-first handling as static assets.
	Unclassified Classification = iota
	// Sensitive requests are never read from or written to the cache.
	Sensitive
	// VolatileData requests are network-first with a cache fallback.
	VolatileData
	// StaticAsset requests are cache-first with a background refresh.
	StaticAsset
)

// String returns the lower-case name used in logs and metric labels.
func (c Classification) String() string {
	switch c {
	case Sensitive:
		return "sensitive"
	case VolatileData:
		return "volatile"
	case StaticAsset:
		return "static"
	default:
		return "unclassified"
	}
}

// Rule is one row of the classification table.
type Rule struct {
	Name  string
	Match func(u *url.URL) bool
	Class Classification
}

// Config holds the inputs of the default rule table.
type Config struct {
	// Origin is the proxied origin; static asset rules only match it
	Origin *url.URL

	// ActionParam is the query parameter carrying the action marker
	ActionParam string

	SensitiveActions []string
	VolatileActions  []string

	// Manifest are absolute precache URLs
	Manifest []string

	// StaticExtensions are path extensions (with dot) treated as assets
	StaticExtensions []string
}

// Classifier evaluates an ordered rule table.
type Classifier struct {
	rules []Rule
}

// New builds a classifier with the default rule table for cfg.
func New(cfg Config) *Classifier {
	param := cfg.ActionParam
	if param == "" {
		param = "action"
	}

	return NewWithRules([]Rule{
		{
			Name:  "sensitive-action",
			Match: actionMatcher(param, cfg.SensitiveActions),
			Class: Sensitive,
		},
		{
			Name:  "volatile-action",
			Match: actionMatcher(param, cfg.VolatileActions),
			Class: VolatileData,
		},
		{
			Name:  "static-asset",
			Match: staticMatcher(cfg.Origin, cfg.Manifest, cfg.StaticExtensions),
			Class: StaticAsset,
		},
	})
}

// NewWithRules builds a classifier from an explicit table.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the class of the first matching rule. It is total: every
// input yields a class.
func (c *Classifier) Classify(method string, u *url.URL) Classification {
	if u == nil {
		return Unclassified
	}
	for _, rule := range c.rules {
		if rule.Match(u) {
			return rule.Class
		}
	}
	return Unclassified
}

// Intercepts reports whether the engine handles the request at all: only
// safe reads over a network scheme are considered.
func Intercepts(method string, u *url.URL) bool {
	if method != "" && method != http.MethodGet && method != http.MethodHead {
		return false
	}
	return u != nil && IsNetworkScheme(u.Scheme)
}

// IsNetworkScheme reports whether scheme goes over the network.
func IsNetworkScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func actionMatcher(param string, markers []string) func(*url.URL) bool {
	set := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		set[m] = struct{}{}
	}
	return func(u *url.URL) bool {
		if len(set) == 0 || u.RawQuery == "" {
			return false
		}
		for _, v := range u.Query()[param] {
			if _, ok := set[v]; ok {
				return true
			}
		}
		return false
	}
}

func staticMatcher(origin *url.URL, manifest, extensions []string) func(*url.URL) bool {
	listed := make(map[string]struct{}, len(manifest))
	for _, raw := range manifest {
		if u, err := url.Parse(raw); err == nil {
			listed[manifestKey(u)] = struct{}{}
		}
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	return func(u *url.URL) bool {
		if _, ok := listed[manifestKey(u)]; ok {
			return true
		}
		if origin != nil && !sameOrigin(origin, u) {
			return false
		}
		_, ok := exts[strings.ToLower(path.Ext(u.Path))]
		return ok
	}
}

func manifestKey(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p + "?" + u.RawQuery
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
