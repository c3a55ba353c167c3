package precache

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for precaching.
var (
	precacheEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_precache_entries_total",
		Help: "Manifest entries processed during precache by result",
	}, []string{"result"})

	precacheDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offline_proxy_precache_duration_seconds",
		Help:    "Duration of a full manifest precache",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int
	// Timeout per manifest entry
	Timeout time.Duration
	// Retry, when set, retries network and server failures per entry
	Retry *upstream.RetryConfig
}

// DefaultConfig returns the default warmer configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 6,
		Timeout:        15 * time.Second,
	}
}

// Result lists the outcome per manifest URL.
type Result struct {
	Stored []string
	Failed []string
}

// Warmer populates a store from the precache manifest
type Warmer struct {
	fetcher upstream.Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewWarmer creates a new warmer
func NewWarmer(fetcher upstream.Fetcher, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 6
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "precache").Logger(),
	}
}

// Precache fetches every manifest URL and stores the 2xx responses under
// their GET key. A failing entry is logged and skipped; it never stops the
// other entries. Both result lists are sorted.
func (w *Warmer) Precache(ctx context.Context, store *cache.Store, manifest []string) Result {
	start := time.Now()
	defer func() {
		precacheDuration.Observe(time.Since(start).Seconds())
	}()

	w.logger.Info().
		Str("store", store.Name()).
		Int("entries", len(manifest)).
		Msg("Starting precache")

	var (
		mu     sync.Mutex
		result Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.MaxConcurrency)

	for _, rawURL := range manifest {
		rawURL := rawURL
		g.Go(func() error {
			err := w.fetchOne(gctx, store, rawURL)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				precacheEntriesTotal.WithLabelValues("failure").Inc()
				result.Failed = append(result.Failed, rawURL)
				w.logger.Warn().
					Err(err).
					Str("url", rawURL).
					Msg("Precache entry failed, skipping")
				return nil
			}
			precacheEntriesTotal.WithLabelValues("success").Inc()
			result.Stored = append(result.Stored, rawURL)
			return nil
		})
	}

	// entries never return an error, so Wait only waits
	_ = g.Wait()

	sort.Strings(result.Stored)
	sort.Strings(result.Failed)

	w.logger.Info().
		Str("store", store.Name()).
		Int("stored", len(result.Stored)).
		Int("failed", len(result.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Precache complete")

	return result
}

func (w *Warmer) fetchOne(ctx context.Context, store *cache.Store, rawURL string) error {
	key, err := cache.KeyFromURL(rawURL)
	if err != nil {
		return err
	}

	entryCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(entryCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	var resp *http.Response
	if w.config.Retry != nil {
		resp, err = upstream.DoWithRetry(entryCtx, w.fetcher, req, *w.config.Retry)
	} else {
		resp, err = w.fetcher.Do(req)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !cache.IsStorableStatus(resp.StatusCode) {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("store entry: %w", err)
	}

	w.logger.Debug().Str("url", rawURL).Int("bytes", len(entry.Data)).Msg("Precached")
	return nil
}
