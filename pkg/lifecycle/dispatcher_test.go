package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/precache"
	"github.com/Sternrassler/offline-proxy/pkg/queue"
	"github.com/Sternrassler/offline-proxy/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okNetwork(calls *atomic.Int32) upstream.Fetcher {
	return upstream.FetcherFunc(func(req *http.Request) (*http.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		rec := httptest.NewRecorder()
		io.WriteString(rec, "asset "+req.URL.Path)
		return rec.Result(), nil
	})
}

func newDeps(t *testing.T, backend cache.Backend, version string, network upstream.Fetcher) Deps {
	t.Helper()
	manager := cache.NewManager(backend)
	return Deps{
		Manager:  manager,
		Warmer:   precache.NewWarmer(network, precache.DefaultConfig()),
		Queue:    queue.New(manager, network, queue.WithLogger(zerolog.Nop())),
		Version:  version,
		Manifest: []string{"https://app.test/", "https://app.test/app.js"},
		Logger:   zerolog.Nop(),
	}
}

func stores(t *testing.T, backend cache.Backend) []string {
	t.Helper()
	names, err := backend.Stores(context.Background())
	require.NoError(t, err)
	return names
}

func TestDispatch_UnknownKind(t *testing.T) {
	d := NewDispatcher(nil)

	err := d.Dispatch(context.Background(), Trigger{Kind: "reboot"})
	assert.ErrorIs(t, err, ErrUnknownTrigger)
}

func TestDispatch_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	d := NewDispatcher(map[Kind]Handler{
		KindPurge: func(ctx context.Context, t Trigger) error { return boom },
	})

	err := d.Dispatch(context.Background(), Trigger{Kind: KindPurge})
	assert.ErrorIs(t, err, boom)
}

func TestDefaultHandlers_AllKinds(t *testing.T) {
	d := NewDispatcher(DefaultHandlers(newDeps(t, cache.NewMemoryBackend(), "v1", okNetwork(nil))))

	assert.Equal(t, []Kind{
		KindActivate, KindInstall, KindPurge, KindStoreThis, KindSync, KindTakeOverNow,
	}, d.Kinds())
}

func TestInstallThenActivate(t *testing.T) {
	backend := cache.NewMemoryBackend()
	old := cache.NewManager(backend)
	require.NoError(t, old.ActivateVersion(context.Background(), "v1"))

	deps := newDeps(t, backend, "v2", okNetwork(nil))
	d := NewDispatcher(DefaultHandlers(deps))

	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindInstall}))

	// install populates the new store but leaves the old one in place
	assert.Equal(t, []string{"offline-proxy-v1", "offline-proxy-v2"}, stores(t, backend))
	assert.Nil(t, deps.Manager.Current())

	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindActivate}))

	assert.Equal(t, []string{"offline-proxy-v2"}, stores(t, backend))
	require.NotNil(t, deps.Manager.Current())

	key, err := cache.KeyFromURL("https://app.test/app.js")
	require.NoError(t, err)
	entry, err := deps.Manager.Current().Match(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "asset /app.js", string(entry.Data))
}

func TestInstall_FailingEntriesDoNotFail(t *testing.T) {
	network := upstream.FetcherFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("offline")
	})
	deps := newDeps(t, cache.NewMemoryBackend(), "v1", network)

	err := InstallHandler(deps.Manager, deps.Warmer, "v1", deps.Manifest, zerolog.Nop())(context.Background(), Trigger{Kind: KindInstall})
	assert.NoError(t, err)
}

func TestActivate_Twice(t *testing.T) {
	backend := cache.NewMemoryBackend()
	deps := newDeps(t, backend, "v3", okNetwork(nil))
	h := ActivateHandler(deps.Manager, "v3", false, zerolog.Nop())

	for i := 0; i < 2; i++ {
		require.NoError(t, h(context.Background(), Trigger{Kind: KindActivate}))
		assert.Equal(t, []string{"offline-proxy-v3"}, stores(t, backend))
	}
}

func TestTakeOverNow(t *testing.T) {
	backend := cache.NewMemoryBackend()
	old := cache.NewManager(backend)
	require.NoError(t, old.ActivateVersion(context.Background(), "v1"))

	d := NewDispatcher(DefaultHandlers(newDeps(t, backend, "v2", okNetwork(nil))))
	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindTakeOverNow}))

	assert.Equal(t, []string{"offline-proxy-v2"}, stores(t, backend))
}

func TestPurge(t *testing.T) {
	backend := cache.NewMemoryBackend()
	deps := newDeps(t, backend, "v1", okNetwork(nil))
	d := NewDispatcher(DefaultHandlers(deps))

	assert.ErrorIs(t, d.Dispatch(context.Background(), Trigger{Kind: KindPurge}), cache.ErrNoActiveStore)

	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindActivate}))
	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindPurge}))
	assert.Empty(t, stores(t, backend))
}

func TestStoreThis(t *testing.T) {
	deps := newDeps(t, cache.NewMemoryBackend(), "v1", okNetwork(nil))
	d := NewDispatcher(DefaultHandlers(deps))
	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindActivate}))

	err := d.Dispatch(context.Background(), Trigger{
		Kind: KindStoreThis,
		StoreThis: &StoreThisPayload{
			URL:     "https://app.test/?action=login",
			Headers: map[string][]string{"Content-Type": {"application/json"}},
			Body:    `{"saved":true}`,
		},
	})
	require.NoError(t, err)

	// classification is bypassed, even for a sensitive URL
	key, err := cache.KeyFromURL("https://app.test/?action=login")
	require.NoError(t, err)
	entry, err := deps.Manager.Current().Match(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, `{"saved":true}`, string(entry.Data))
	assert.Equal(t, 200, entry.StatusCode)
	assert.Equal(t, "application/json", entry.Headers.Get("Content-Type"))

	assert.Error(t, d.Dispatch(context.Background(), Trigger{Kind: KindStoreThis}))
	assert.Error(t, d.Dispatch(context.Background(), Trigger{
		Kind:      KindStoreThis,
		StoreThis: &StoreThisPayload{URL: "/relative"},
	}))
}

func TestSync(t *testing.T) {
	var calls atomic.Int32
	deps := newDeps(t, cache.NewMemoryBackend(), "v1", okNetwork(&calls))
	d := NewDispatcher(DefaultHandlers(deps))
	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindActivate}))

	_, err := deps.Queue.Enqueue(context.Background(), queue.DeferredWrite{TargetURL: "https://app.test/save"})
	require.NoError(t, err)

	// other tags are ignored
	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindSync, Tag: "other"}))
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, d.Dispatch(context.Background(), Trigger{Kind: KindSync, Tag: SyncTagDrafts}))
	assert.Equal(t, int32(1), calls.Load())

	pending, err := deps.Queue.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
