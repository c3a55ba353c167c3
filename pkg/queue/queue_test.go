package queue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNetwork records replayed requests and fails those whose URL is listed.
type recordingNetwork struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	failURLs map[string]int // url -> status, 0 means transport error
	onDo     func()
}

func (n *recordingNetwork) Do(req *http.Request) (*http.Response, error) {
	if n.onDo != nil {
		n.onDo()
	}

	body, _ := io.ReadAll(req.Body)

	n.mu.Lock()
	n.requests = append(n.requests, req.Method+" "+req.URL.String())
	n.bodies = append(n.bodies, string(body))
	status, fail := n.failURLs[req.URL.String()]
	n.mu.Unlock()

	if fail && status == 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	rec := httptest.NewRecorder()
	if fail {
		rec.WriteHeader(status)
	} else {
		rec.WriteHeader(http.StatusCreated)
	}
	return rec.Result(), nil
}

func newTestQueue(t *testing.T, network upstream.Fetcher, opts ...Option) (*Queue, *cache.Manager) {
	t.Helper()
	manager := cache.NewManager(cache.NewMemoryBackend())
	require.NoError(t, manager.ActivateVersion(context.Background(), "v1"))
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(manager, network, opts...), manager
}

func enqueue(t *testing.T, q *Queue, url, body string) DeferredWrite {
	t.Helper()
	w, err := q.Enqueue(context.Background(), DeferredWrite{
		TargetURL: url,
		Method:    http.MethodPost,
		Headers:   http.Header{"Content-Type": []string{"application/json"}},
		Body:      []byte(body),
	})
	require.NoError(t, err)
	return w
}

func TestNew_Panics(t *testing.T) {
	assert.Panics(t, func() { New(nil, &recordingNetwork{}) })
	assert.Panics(t, func() { New(cache.NewManager(cache.NewMemoryBackend()), nil) })
}

func TestEnqueue_FillsDefaults(t *testing.T) {
	q, _ := newTestQueue(t, &recordingNetwork{})

	w, err := q.Enqueue(context.Background(), DeferredWrite{TargetURL: "https://app.test/save"})
	require.NoError(t, err)

	assert.NotEmpty(t, w.ID)
	assert.Equal(t, http.MethodPost, w.Method)
	assert.False(t, w.EnqueuedAt.IsZero())

	_, err = q.Enqueue(context.Background(), DeferredWrite{})
	assert.Error(t, err)
}

func TestEnqueue_PersistsUnderReservedKey(t *testing.T) {
	q, manager := newTestQueue(t, &recordingNetwork{})

	enqueue(t, q, "https://app.test/a", `{"n":1}`)
	enqueue(t, q, "https://app.test/b", `{"n":2}`)

	raw, err := manager.Current().GetRaw(context.Background(), StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "https://app.test/a")

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "https://app.test/a", pending[0].TargetURL)
	assert.Equal(t, `{"n":2}`, string(pending[1].Body))

	// the queue is not a request entry
	keys, err := manager.Current().Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEnqueue_Concurrent(t *testing.T) {
	q, _ := newTestQueue(t, &recordingNetwork{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), DeferredWrite{TargetURL: "https://app.test/x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 20)
}

func TestDrain_EmptyIsNoop(t *testing.T) {
	network := &recordingNetwork{}
	q, manager := newTestQueue(t, network)

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, result)
	assert.Empty(t, network.requests)

	result, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)

	_, err = manager.Current().GetRaw(context.Background(), StorageKey)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestDrain_AllSucceedDeletesKey(t *testing.T) {
	network := &recordingNetwork{}
	q, manager := newTestQueue(t, network)

	enqueue(t, q, "https://app.test/1", `one`)
	enqueue(t, q, "https://app.test/2", `two`)

	result, err := q.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempted)
	assert.Len(t, result.Replayed, 2)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, []string{"POST https://app.test/1", "POST https://app.test/2"}, network.requests)
	assert.Equal(t, []string{"one", "two"}, network.bodies)

	_, err = manager.Current().GetRaw(context.Background(), StorageKey)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestDrain_MiddleFailureIsRetained(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"transport error", 0},
		{"server error", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := &recordingNetwork{failURLs: map[string]int{"https://app.test/2": tt.status}}
			q, _ := newTestQueue(t, network)

			enqueue(t, q, "https://app.test/1", `one`)
			second := enqueue(t, q, "https://app.test/2", `two`)
			enqueue(t, q, "https://app.test/3", `three`)

			result, err := q.Drain(context.Background())
			require.NoError(t, err)

			// entry 3 is still attempted after entry 2 fails
			assert.Len(t, network.requests, 3)
			assert.Equal(t, []string{second.ID}, result.Failed)
			assert.Equal(t, 1, result.Remaining)

			pending, err := q.Pending(context.Background())
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, second.ID, pending[0].ID)
			assert.Equal(t, `two`, string(pending[0].Body))
		})
	}
}

func TestDrain_ClientErrorCountsAsDelivered(t *testing.T) {
	network := &recordingNetwork{failURLs: map[string]int{"https://app.test/bad": http.StatusBadRequest}}
	q, _ := newTestQueue(t, network)

	enqueue(t, q, "https://app.test/bad", `{}`)

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Remaining)
}

func TestDrain_KeepsEntriesEnqueuedDuringReplay(t *testing.T) {
	network := &recordingNetwork{}
	q, _ := newTestQueue(t, network)

	enqueue(t, q, "https://app.test/1", `one`)

	var once sync.Once
	network.onDo = func() {
		once.Do(func() {
			enqueue(t, q, "https://app.test/late", `late`)
		})
	}

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Remaining)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://app.test/late", pending[0].TargetURL)
}

func TestDrain_WithRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	network := upstream.FetcherFunc(func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusOK)
		return rec.Result(), nil
	})

	q, _ := newTestQueue(t, network, WithRetry(upstream.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}))
	enqueue(t, q, "https://app.test/1", `one`)

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, 2, calls)
}

func TestQueue_NoActiveStore(t *testing.T) {
	q := New(cache.NewManager(cache.NewMemoryBackend()), &recordingNetwork{})

	_, err := q.Enqueue(context.Background(), DeferredWrite{TargetURL: "https://app.test/"})
	assert.ErrorIs(t, err, cache.ErrNoActiveStore)

	_, err = q.Drain(context.Background())
	assert.ErrorIs(t, err, cache.ErrNoActiveStore)
}
