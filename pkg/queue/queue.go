// Package queue buffers writes that could not be sent while offline and
// replays them when connectivity returns.
//
// The whole queue is one JSON list stored under a reserved key of the active
// cache store. Replay is best-effort per entry: a failed entry stays queued
// for the next drain and does not stop the entries after it.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/upstream"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StorageKey is the reserved store key holding the queued writes.
const StorageKey = cache.ReservedKeyPrefix + "deferred-writes"

// Prometheus metrics for the deferred write queue.
var (
	pendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_proxy_queue_pending",
		Help: "Deferred writes waiting for replay",
	})

	enqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_proxy_queue_enqueued_total",
		Help: "Total deferred writes enqueued",
	})

	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_queue_replays_total",
		Help: "Total deferred write replays by result",
	}, []string{"result"})
)

// DeferredWrite is a write buffered for later replay.
type DeferredWrite struct {
	ID         string      `json:"id"`
	TargetURL  string      `json:"targetUrl"`
	Method     string      `json:"method"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// DrainResult summarises one drain.
type DrainResult struct {
	Attempted int      `json:"attempted"`
	Replayed  []string `json:"replayed"`
	Failed    []string `json:"failed"`
	Remaining int      `json:"remaining"`
}

// Queue is the deferred write queue.
type Queue struct {
	manager *cache.Manager
	fetcher upstream.Fetcher
	retry   *upstream.RetryConfig
	logger  zerolog.Logger

	// guards read-modify-write of the stored list
	mu sync.Mutex
	// one drain at a time so an entry is never replayed twice concurrently
	drainMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetry replays each entry with retry and backoff.
func WithRetry(cfg upstream.RetryConfig) Option {
	return func(q *Queue) {
		q.retry = &cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// New creates a queue stored in manager's active store and replayed through fetcher.
func New(manager *cache.Manager, fetcher upstream.Fetcher, opts ...Option) *Queue {
	if manager == nil {
		panic("cache manager cannot be nil")
	}
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	q := &Queue{
		manager: manager,
		fetcher: fetcher,
		logger:  log.With().Str("component", "queue").Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends w to the queue. ID and EnqueuedAt are filled in when empty.
func (q *Queue) Enqueue(ctx context.Context, w DeferredWrite) (DeferredWrite, error) {
	if w.TargetURL == "" {
		return DeferredWrite{}, fmt.Errorf("target url is required")
	}
	if w.Method == "" {
		w.Method = http.MethodPost
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.EnqueuedAt.IsZero() {
		w.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	store := q.manager.Current()
	if store == nil {
		return DeferredWrite{}, cache.ErrNoActiveStore
	}

	writes, err := load(ctx, store)
	if err != nil {
		return DeferredWrite{}, err
	}
	writes = append(writes, w)
	if err := save(ctx, store, writes); err != nil {
		return DeferredWrite{}, err
	}

	enqueuedTotal.Inc()
	pendingWrites.Set(float64(len(writes)))
	q.logger.Debug().
		Str("id", w.ID).
		Str("method", w.Method).
		Str("url", w.TargetURL).
		Msg("Deferred write enqueued")
	return w, nil
}

// Pending returns the queued writes in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]DeferredWrite, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	store := q.manager.Current()
	if store == nil {
		return nil, cache.ErrNoActiveStore
	}
	return load(ctx, store)
}

// Drain replays every queued write in enqueue order. Entries that succeed
// are removed; failures stay queued. When nothing remains the reserved key
// is deleted. An empty queue is a no-op.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	// Step 1: Snapshot the list
	q.mu.Lock()
	store := q.manager.Current()
	if store == nil {
		q.mu.Unlock()
		return DrainResult{}, cache.ErrNoActiveStore
	}
	snapshot, err := load(ctx, store)
	q.mu.Unlock()
	if err != nil {
		return DrainResult{}, err
	}
	if len(snapshot) == 0 {
		return DrainResult{}, nil
	}

	// Step 2: Replay outside the lock so enqueues are not blocked on the network
	result := DrainResult{Attempted: len(snapshot)}
	done := make(map[string]struct{}, len(snapshot))
	for _, w := range snapshot {
		if err := q.replay(ctx, w); err != nil {
			replaysTotal.WithLabelValues("failure").Inc()
			result.Failed = append(result.Failed, w.ID)
			q.logger.Warn().
				Err(err).
				Str("id", w.ID).
				Str("url", w.TargetURL).
				Msg("Deferred write replay failed, keeping it queued")
			continue
		}
		replaysTotal.WithLabelValues("success").Inc()
		result.Replayed = append(result.Replayed, w.ID)
		done[w.ID] = struct{}{}
	}

	// Step 3: Remove replayed entries from the current list, which may have
	// grown during replay
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := load(ctx, store)
	if err != nil {
		return result, err
	}
	remaining := current[:0]
	for _, w := range current {
		if _, ok := done[w.ID]; !ok {
			remaining = append(remaining, w)
		}
	}
	result.Remaining = len(remaining)
	pendingWrites.Set(float64(len(remaining)))

	if len(remaining) == 0 {
		if err := store.DeleteRaw(ctx, StorageKey); err != nil {
			return result, fmt.Errorf("delete deferred writes: %w", err)
		}
	} else if err := save(ctx, store, remaining); err != nil {
		return result, err
	}

	q.logger.Info().
		Int("replayed", len(result.Replayed)).
		Int("failed", len(result.Failed)).
		Int("remaining", result.Remaining).
		Msg("Deferred write queue drained")
	return result, nil
}

// replay sends w. It succeeds when a response with a non-5xx status arrives.
func (q *Queue) replay(ctx context.Context, w DeferredWrite) error {
	req, err := http.NewRequestWithContext(ctx, w.Method, w.TargetURL, bytes.NewReader(w.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for name, values := range w.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	var resp *http.Response
	if q.retry != nil {
		resp, err = upstream.DoWithRetry(ctx, q.fetcher, req, *q.retry)
	} else {
		resp, err = q.fetcher.Do(req)
	}
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &upstream.Error{
			StatusCode: resp.StatusCode,
			ErrorClass: upstream.ErrorClassServer,
			Message:    resp.Status,
		}
	}
	return nil
}

func load(ctx context.Context, store *cache.Store) ([]DeferredWrite, error) {
	data, err := store.GetRaw(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("read deferred writes: %w", err)
	}

	var writes []DeferredWrite
	if err := json.Unmarshal(data, &writes); err != nil {
		return nil, fmt.Errorf("%w: deferred writes: %v", cache.ErrInvalidEntry, err)
	}
	return writes, nil
}

func save(ctx context.Context, store *cache.Store, writes []DeferredWrite) error {
	data, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("marshal deferred writes: %w", err)
	}
	if err := store.PutRaw(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("write deferred writes: %w", err)
	}
	return nil
}
