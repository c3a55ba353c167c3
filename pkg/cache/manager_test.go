package cache

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a Redis client backed by miniredis (in-memory).
// The Redis container test lives in redis_integration_test.go.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// backendFactories lists every backend the manager tests run against.
func backendFactories() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "cache.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
		"redis": func(t *testing.T) Backend {
			return NewRedisBackend(setupTestRedis(t), "")
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func testKey(t *testing.T, raw string) CacheKey {
	t.Helper()
	key, err := KeyFromURL(raw)
	if err != nil {
		t.Fatalf("KeyFromURL: %v", err)
	}
	return key
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil backend")
		}
	}()
	NewManager(nil)
}

func TestNewRedisBackend_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisBackend should panic with nil redis client")
		}
	}()
	NewRedisBackend(nil, "")
}

func TestManager_Open_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		manager := NewManager(backend)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			store, err := manager.Open(ctx, "v1")
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if store.Name() != "offline-proxy-v1" {
				t.Errorf("Name() = %q", store.Name())
			}
		}

		names, err := backend.Stores(ctx)
		if err != nil {
			t.Fatalf("Stores failed: %v", err)
		}
		if len(names) != 1 {
			t.Errorf("expected exactly one store, got %v", names)
		}
	})
}

func TestManager_Open_EmptyVersion(t *testing.T) {
	manager := NewManager(NewMemoryBackend())
	if _, err := manager.Open(context.Background(), ""); err == nil {
		t.Error("Open with empty version should fail")
	}
}

func TestStore_PutAndMatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
			t.Run(codec.Name(), func(t *testing.T) {
				manager := NewManager(backend, WithCodec(codec))
				ctx := context.Background()

				store, err := manager.Open(ctx, "v1")
				if err != nil {
					t.Fatalf("Open failed: %v", err)
				}

				key := testKey(t, "https://app.test/?action=fetchAll")
				entry := &CacheEntry{
					Data:       []byte(`{"a":1}`),
					StatusCode: 200,
					Headers:    http.Header{"Content-Type": []string{"application/json"}},
					CachedAt:   time.Now(),
				}

				if err := store.Put(ctx, key, entry); err != nil {
					t.Fatalf("Put failed: %v", err)
				}

				got, err := store.Match(ctx, key)
				if err != nil {
					t.Fatalf("Match failed: %v", err)
				}
				if string(got.Data) != `{"a":1}` {
					t.Errorf("Data = %s", got.Data)
				}
				if got.StatusCode != 200 {
					t.Errorf("StatusCode = %d", got.StatusCode)
				}
				if got.Headers.Get("Content-Type") != "application/json" {
					t.Errorf("Content-Type = %q", got.Headers.Get("Content-Type"))
				}
			})
		}
	})
}

func TestStore_Overwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		store, _ := NewManager(backend).Open(ctx, "v1")
		key := testKey(t, "https://app.test/a")

		store.Put(ctx, key, &CacheEntry{Data: []byte("one"), StatusCode: 200})
		store.Put(ctx, key, &CacheEntry{Data: []byte("two"), StatusCode: 200})

		got, err := store.Match(ctx, key)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if string(got.Data) != "two" {
			t.Errorf("Data = %q, want last write", got.Data)
		}
	})
}

func TestStore_Match_CacheMiss(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		store, _ := NewManager(backend).Open(ctx, "v1")

		_, err := store.Match(ctx, testKey(t, "https://app.test/missing"))
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss, got %v", err)
		}
	})
}

func TestStore_Match_InvalidEntry(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	store, _ := NewManager(backend).Open(ctx, "v1")
	key := testKey(t, "https://app.test/bad")

	backend.Put(ctx, store.Name(), key.String(), []byte("not json"))

	_, err := store.Match(ctx, key)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		store, _ := NewManager(backend).Open(ctx, "v1")
		key := testKey(t, "https://app.test/a")

		if err := store.Put(ctx, key, &CacheEntry{Data: []byte("x"), StatusCode: 200}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Delete(ctx, key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Match(ctx, key); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
		}
	})
}

func TestStore_Keys_SkipsReserved(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		store, _ := NewManager(backend).Open(ctx, "v1")

		store.Put(ctx, testKey(t, "https://app.test/a"), &CacheEntry{StatusCode: 200})
		store.Put(ctx, testKey(t, "https://app.test/b"), &CacheEntry{StatusCode: 200})
		store.PutRaw(ctx, ReservedKeyPrefix+"deferred-writes", []byte("[]"))

		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		sort.Strings(keys)
		want := []string{"GET https://app.test/a", "GET https://app.test/b"}
		if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
			t.Errorf("Keys() = %v, want %v", keys, want)
		}
	})
}

func TestManager_ActivateVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		manager := NewManager(backend)
		ctx := context.Background()

		old, _ := manager.Open(ctx, "v1")
		old.Put(ctx, testKey(t, "https://app.test/a"), &CacheEntry{StatusCode: 200})
		// a store from some other cache name is superseded as well
		backend.CreateStore(ctx, "legacy-cache")

		// twice in succession leaves exactly one store both times
		for i := 0; i < 2; i++ {
			if err := manager.ActivateVersion(ctx, "v2"); err != nil {
				t.Fatalf("ActivateVersion failed: %v", err)
			}

			names, err := backend.Stores(ctx)
			if err != nil {
				t.Fatalf("Stores failed: %v", err)
			}
			if len(names) != 1 || names[0] != "offline-proxy-v2" {
				t.Errorf("round %d: stores = %v, want [offline-proxy-v2]", i, names)
			}
		}

		if manager.Current() == nil || manager.Current().Version() != "v2" {
			t.Fatalf("Current() = %v, want v2", manager.Current())
		}

		keys, _ := backend.Keys(ctx, "offline-proxy-v1")
		if len(keys) != 0 {
			t.Errorf("superseded store still has keys: %v", keys)
		}
	})
}

func TestStore_WriteAfterCutoverDoesNotRecreateStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		manager := NewManager(backend)
		ctx := context.Background()

		if err := manager.ActivateVersion(ctx, "v1"); err != nil {
			t.Fatalf("ActivateVersion(v1) failed: %v", err)
		}
		stale := manager.Current()

		if err := manager.ActivateVersion(ctx, "v2"); err != nil {
			t.Fatalf("ActivateVersion(v2) failed: %v", err)
		}

		err := stale.Put(ctx, testKey(t, "https://app.test/late"), &CacheEntry{StatusCode: 200})
		if !errors.Is(err, ErrStoreRetired) {
			t.Errorf("Put() error = %v, want ErrStoreRetired", err)
		}
		if err := stale.PutRaw(ctx, ReservedKeyPrefix+"late", []byte("x")); !errors.Is(err, ErrStoreRetired) {
			t.Errorf("PutRaw() error = %v, want ErrStoreRetired", err)
		}

		names, err := backend.Stores(ctx)
		if err != nil {
			t.Fatalf("Stores failed: %v", err)
		}
		if len(names) != 1 || names[0] != "offline-proxy-v2" {
			t.Errorf("stores = %v, want [offline-proxy-v2]", names)
		}

		// the active store and a store reopened later keep accepting writes
		if err := manager.Current().Put(ctx, testKey(t, "https://app.test/"), &CacheEntry{StatusCode: 200}); err != nil {
			t.Errorf("Put() on active store failed: %v", err)
		}
		reopened, err := manager.Open(ctx, "v1")
		if err != nil {
			t.Fatalf("Open(v1) failed: %v", err)
		}
		if err := reopened.Put(ctx, testKey(t, "https://app.test/"), &CacheEntry{StatusCode: 200}); err != nil {
			t.Errorf("Put() on reopened store failed: %v", err)
		}
	})
}

func TestStore_WriteAfterPurgeRecreatesStore(t *testing.T) {
	manager := NewManager(NewMemoryBackend())
	ctx := context.Background()
	if err := manager.ActivateVersion(ctx, "v1"); err != nil {
		t.Fatalf("ActivateVersion failed: %v", err)
	}
	store := manager.Current()

	if err := manager.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if err := store.Put(ctx, testKey(t, "https://app.test/"), &CacheEntry{StatusCode: 200}); err != nil {
		t.Errorf("Put() after purge failed: %v", err)
	}
}

func TestManager_Current_BeforeActivation(t *testing.T) {
	manager := NewManager(NewMemoryBackend())
	if manager.Current() != nil {
		t.Error("Current() should be nil before activation")
	}
	if err := manager.Purge(context.Background()); !errors.Is(err, ErrNoActiveStore) {
		t.Errorf("Purge() error = %v, want ErrNoActiveStore", err)
	}
	err := manager.StoreThis(context.Background(), testKey(t, "https://app.test/"), &CacheEntry{})
	if !errors.Is(err, ErrNoActiveStore) {
		t.Errorf("StoreThis() error = %v, want ErrNoActiveStore", err)
	}
}

func TestManager_Purge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		manager := NewManager(backend)
		ctx := context.Background()

		if err := manager.ActivateVersion(ctx, "v1"); err != nil {
			t.Fatalf("ActivateVersion failed: %v", err)
		}
		key := testKey(t, "https://app.test/a")
		if err := manager.StoreThis(ctx, key, &CacheEntry{Data: []byte("x"), StatusCode: 200}); err != nil {
			t.Fatalf("StoreThis failed: %v", err)
		}

		if err := manager.Purge(ctx); err != nil {
			t.Fatalf("Purge failed: %v", err)
		}

		names, _ := backend.Stores(ctx)
		if len(names) != 0 {
			t.Errorf("stores after purge = %v, want none", names)
		}
		if _, err := manager.Current().Match(ctx, key); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss after purge, got %v", err)
		}

		// next write brings the store back
		if err := manager.StoreThis(ctx, key, &CacheEntry{Data: []byte("y"), StatusCode: 200}); err != nil {
			t.Fatalf("StoreThis failed: %v", err)
		}
		names, _ = backend.Stores(ctx)
		if len(names) != 1 || names[0] != "offline-proxy-v1" {
			t.Errorf("stores after write = %v", names)
		}
	})
}

func TestManager_WithCacheName(t *testing.T) {
	manager := NewManager(NewMemoryBackend(), WithCacheName("drafts"))
	store, err := manager.Open(context.Background(), "3")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if store.Name() != "drafts-3" {
		t.Errorf("Name() = %q, want drafts-3", store.Name())
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"msgpack", "msgpack", false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		codec, err := CodecByName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("CodecByName(%q) error = %v", tt.name, err)
			continue
		}
		if !tt.wantErr && codec.Name() != tt.want {
			t.Errorf("CodecByName(%q) = %s, want %s", tt.name, codec.Name(), tt.want)
		}
	}
}
