// Package engine implements the offline caching strategies.
//
// An Engine is an http.RoundTripper. Every GET or HEAD request over http or
// https is classified and answered by one of four strategies:
//
//   - Sensitive: network only, never cached
//   - VolatileData: network first, cached copy when offline
//   - StaticAsset and Unclassified, cached: served from cache, refreshed in the background
//   - StaticAsset and Unclassified, not cached: network, stored on success, placeholder when offline
//
// Intercepted requests always get a response and a nil error. Being offline
// is never surfaced as an error; it becomes a fallback response.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/classify"
	"github.com/Sternrassler/offline-proxy/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Strategy names the way a request was handled.
type Strategy string

const (
	StrategyNetworkOnly   Strategy = "network-only"
	StrategyNetworkFirst  Strategy = "network-first"
	StrategyCacheFirst    Strategy = "cache-first"
	StrategyNetworkOnMiss Strategy = "network-on-miss"
)

// Outcomes reported in the X-Offline-Proxy header and metrics.
const (
	outcomeNetwork     = "network"
	outcomeCache       = "cache"
	outcomeUnavailable = "unavailable"
	outcomeOfflinePage = "offline-page"
)

const defaultBackgroundTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	// Manager provides the active store (required)
	Manager *cache.Manager

	// Fetcher performs network requests (required)
	Fetcher upstream.Fetcher

	// Classifier assigns request classes (default: no rules, all Unclassified)
	Classifier *classify.Classifier

	// VaryHeaders are request headers that become part of the cache key
	VaryHeaders []string

	// OfflinePage is served to offline navigations that miss the cache
	OfflinePage []byte

	// BackgroundTimeout bounds each detached write or refresh
	BackgroundTimeout time.Duration

	// Observer is told the outcome of every network attempt (optional)
	Observer upstream.Observer

	Logger *zerolog.Logger
}

// Engine is the strategy executor.
type Engine struct {
	manager     *cache.Manager
	fetcher     upstream.Fetcher
	classifier  *classify.Classifier
	varyHeaders []string
	offlinePage []byte
	observer    upstream.Observer
	tasks       taskGroup
	logger      zerolog.Logger
}

// New creates a new Engine.
func New(opts Options) (*Engine, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.NewWithRules(nil)
	}

	page := opts.OfflinePage
	if len(page) == 0 {
		page = []byte(DefaultOfflinePage)
	}

	timeout := opts.BackgroundTimeout
	if timeout <= 0 {
		timeout = defaultBackgroundTimeout
	}

	logger := log.With().Str("component", "engine").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Engine{
		manager:     opts.Manager,
		fetcher:     opts.Fetcher,
		classifier:  classifier,
		varyHeaders: opts.VaryHeaders,
		offlinePage: page,
		observer:    opts.Observer,
		tasks:       taskGroup{timeout: timeout},
		logger:      logger,
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	// Step 1: Requests outside the engine's scope go straight to the network
	if !classify.Intercepts(req.Method, req.URL) {
		passthroughTotal.Inc()
		return e.fetcher.Do(req)
	}

	// Step 2: Classify before any store or network access
	class := e.classifier.Classify(req.Method, req.URL)
	key := cache.KeyFromRequest(req, e.varyHeaders)

	logger := e.logger.With().
		Str("url", req.URL.String()).
		Str("class", class.String()).
		Logger()

	// Step 3: Run the strategy for the class
	switch class {
	case classify.Sensitive:
		return e.run(req, class, StrategyNetworkOnly, func() (*http.Response, string) {
			return e.networkOnly(req)
		}), nil

	case classify.VolatileData:
		return e.run(req, class, StrategyNetworkFirst, func() (*http.Response, string) {
			return e.networkFirst(req, key, logger)
		}), nil
	}

	store := e.manager.Current()
	if store == nil {
		logger.Debug().Msg("No active store, treating as cache miss")
		return e.run(req, class, StrategyNetworkOnMiss, func() (*http.Response, string) {
			return e.networkOnMiss(req, nil, key, logger)
		}), nil
	}

	entry := e.lookup(req.Context(), store, key, logger)
	if entry != nil {
		return e.run(req, class, StrategyCacheFirst, func() (*http.Response, string) {
			return e.cacheFirst(req, store, key, entry, logger)
		}), nil
	}

	return e.run(req, class, StrategyNetworkOnMiss, func() (*http.Response, string) {
		return e.networkOnMiss(req, store, key, logger)
	}), nil
}

func (e *Engine) run(req *http.Request, class classify.Classification, strategy Strategy, fn func() (*http.Response, string)) *http.Response {
	start := time.Now()
	resp, outcome := fn()
	strategyDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(class.String(), string(strategy), outcome).Inc()

	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(HeaderOutcome, string(strategy)+"; "+outcome)
	if resp.Request == nil {
		resp.Request = req
	}
	return resp
}

// fetch performs the network request. It returns a nil response when the
// network is unavailable.
func (e *Engine) fetch(req *http.Request) *http.Response {
	resp, err := e.fetcher.Do(req)
	// a request the caller abandoned says nothing about the network
	if e.observer != nil && !callerCancelled(req, err) {
		e.observer.Observe(err)
	}
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		e.logger.Debug().
			Err(err).
			Str("url", req.URL.String()).
			Msg("Network unavailable")
		return nil
	}
	return resp
}

func callerCancelled(req *http.Request, err error) bool {
	return errors.Is(err, context.Canceled) && req.Context().Err() != nil
}

// lookup reads key from store. Read errors other than a miss are logged and
// reported as a miss.
//
// Precached and store-this entries carry no vary headers, so a miss under a
// key with headers is retried under the bare URL key.
func (e *Engine) lookup(ctx context.Context, store *cache.Store, key cache.CacheKey, logger zerolog.Logger) *cache.CacheEntry {
	entry := e.match(ctx, store, key, logger)
	if entry == nil && len(key.Headers) > 0 {
		entry = e.match(ctx, store, cache.CacheKey{Method: key.Method, URL: key.URL}, logger)
	}
	if entry != nil {
		logger.Debug().Dur("age", entry.Age()).Msg("Cache hit")
	}
	return entry
}

func (e *Engine) match(ctx context.Context, store *cache.Store, key cache.CacheKey, logger zerolog.Logger) *cache.CacheEntry {
	entry, err := store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Str("store", store.Name()).Msg("Cache read failed, treating as miss")
		}
		return nil
	}
	return entry
}

// storeLater writes the response to store in a detached task. HEAD responses
// carry no body and are never stored.
func (e *Engine) storeLater(req *http.Request, store *cache.Store, key cache.CacheKey, resp *http.Response, logger zerolog.Logger) {
	if store == nil || req.Method == http.MethodHead || !cache.IsStorableStatus(resp.StatusCode) {
		return
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read response for caching")
		return
	}

	e.tasks.Go(req.Context(), func(ctx context.Context) {
		if err := store.Put(ctx, key, entry); err != nil {
			if errors.Is(err, cache.ErrStoreRetired) {
				logger.Debug().Str("store", store.Name()).Msg("Store retired by cutover, write dropped")
				return
			}
			detachedTaskFailures.WithLabelValues("write").Inc()
			logger.Warn().Err(err).Str("store", store.Name()).Msg("Cache write failed")
			return
		}
		logger.Debug().Str("key", key.String()).Msg("Cached response")
	})
}

// Wait blocks until every detached write and refresh has finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
}

// Shutdown waits for detached tasks until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.tasks.WaitContext(ctx); err != nil {
		return fmt.Errorf("wait for detached tasks: %w", err)
	}
	return nil
}
