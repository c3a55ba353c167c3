// Package config loads the offline proxy configuration from a YAML file and
// environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the proxy configuration.
type Config struct {
	// Origin is the single upstream the proxy fronts, e.g. "https://app.example.com"
	Origin string `yaml:"origin"`

	// Port is the listen port of the proxy binary
	Port int `yaml:"port"`

	// Cache store
	CacheName string `yaml:"cacheName"`
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"` // "redis", "sqlite", "memory"
	Codec     string `yaml:"codec"`   // "json", "msgpack"

	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Manifest lists the URLs (absolute or origin-relative) warmed on install
	Manifest []string `yaml:"manifest"`

	Classifier ClassifierConfig `yaml:"classifier"`

	// VaryHeaders are request headers that take part in the cache key
	VaryHeaders []string `yaml:"varyHeaders"`

	// OfflinePage is the path of an HTML document served to navigations when
	// both cache and network fail. Empty selects the built-in page.
	OfflinePage string `yaml:"offlinePage"`

	// Timeouts
	NetworkTimeout    time.Duration `yaml:"networkTimeout"`
	BackgroundTimeout time.Duration `yaml:"backgroundTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`

	// Precache
	PrecacheConcurrency int `yaml:"precacheConcurrency"`

	// Retry for precache and replay (never for the request path)
	Retry RetryConfig `yaml:"retry"`

	// FailureThreshold is the number of consecutive network failures before
	// the proxy considers itself offline
	FailureThreshold int `yaml:"failureThreshold"`

	// Logging
	LogLevel  string `yaml:"logLevel"`
	LogPretty bool   `yaml:"logPretty"`
}

// RedisConfig holds the Redis backend settings.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	Prefix string `yaml:"prefix"`
}

// SQLiteConfig holds the SQLite backend settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ClassifierConfig holds the marker lists used to classify requests.
type ClassifierConfig struct {
	ActionParam      string   `yaml:"actionParam"`
	SensitiveActions []string `yaml:"sensitiveActions"`
	VolatileActions  []string `yaml:"volatileActions"`
	StaticExtensions []string `yaml:"staticExtensions"`
}

// RetryConfig holds backoff settings.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

// DefaultSensitiveActions are the action markers that are never cached.
var DefaultSensitiveActions = []string{
	"login",
	"saveUser",
	"saveSettings",
	"bulkUpsert",
	"deleteUser",
	"publish",
	"validateSession",
	"logout",
	"extendSession",
}

// DefaultVolatileActions are the bulk-data markers served network-first.
var DefaultVolatileActions = []string{
	"fetchAll",
	"getSettings",
	"getCycles",
}

// DefaultStaticExtensions are path extensions treated as static assets.
var DefaultStaticExtensions = []string{
	".html", ".js", ".mjs", ".css", ".json", ".webmanifest",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	".woff", ".woff2", ".ttf",
}

// Default returns a configuration with safe defaults.
func Default() Config {
	return Config{
		Port:      8080,
		CacheName: "offline-proxy",
		Version:   "v1",
		Backend:   "redis",
		Codec:     "json",
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "offline-proxy:",
		},
		SQLite: SQLiteConfig{
			Path: "offline-proxy.db",
		},
		Manifest: []string{"/", "/index.html"},
		Classifier: ClassifierConfig{
			ActionParam:      "action",
			SensitiveActions: append([]string(nil), DefaultSensitiveActions...),
			VolatileActions:  append([]string(nil), DefaultVolatileActions...),
			StaticExtensions: append([]string(nil), DefaultStaticExtensions...),
		},
		NetworkTimeout:      10 * time.Second,
		BackgroundTimeout:   30 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		PrecacheConcurrency: 4,
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		FailureThreshold: 1,
		LogLevel:         "info",
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	c.Origin = getEnv("OFFLINE_PROXY_ORIGIN", c.Origin)
	c.CacheName = getEnv("CACHE_NAME", c.CacheName)
	c.Version = getEnv("CACHE_VERSION", c.Version)
	c.Backend = getEnv("STORE_BACKEND", c.Backend)
	c.Codec = getEnv("STORE_CODEC", c.Codec)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse LOG_PRETTY: %w", err)
		}
		c.LogPretty = pretty
	}
	if v := os.Getenv("PRECACHE_MANIFEST"); v != "" {
		c.Manifest = splitList(v)
	}
	return nil
}

// Validate checks the configuration for required values.
func (c *Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http or https (got %q)", c.Origin)
	}
	if u.Host == "" {
		return fmt.Errorf("origin must include a host (got %q)", c.Origin)
	}
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	switch c.Backend {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be > 0 (got %d)", c.Port)
	}
	if c.NetworkTimeout <= 0 {
		return fmt.Errorf("networkTimeout must be > 0")
	}
	return nil
}

// OriginURL returns the parsed origin. Call Validate first.
func (c *Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}

// ManifestURLs resolves the manifest entries against the origin.
func (c *Config) ManifestURLs() ([]string, error) {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	out := make([]string, 0, len(c.Manifest))
	for _, entry := range c.Manifest {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("parse manifest entry %q: %w", entry, err)
		}
		out = append(out, origin.ResolveReference(ref).String())
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
