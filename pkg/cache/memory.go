package cache

import (
	"context"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

const memoryKeySep = "\x00"

// MemoryBackend keeps stores in process memory. Nothing survives a restart;
// it exists for tests and for running the proxy without any persistence.
type MemoryBackend struct {
	items *gocache.Cache

	mu     sync.RWMutex
	stores map[string]struct{}
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items:  gocache.New(gocache.NoExpiration, 0),
		stores: make(map[string]struct{}),
	}
}

func memoryKey(store, key string) string {
	return store + memoryKeySep + key
}

func (m *MemoryBackend) Stores(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryBackend) CreateStore(ctx context.Context, store string) error {
	m.mu.Lock()
	m.stores[store] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) DropStore(ctx context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := store + memoryKeySep
	for k := range m.items.Items() {
		if strings.HasPrefix(k, prefix) {
			m.items.Delete(k)
		}
	}
	delete(m.stores, store)
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, store, key string) ([]byte, error) {
	v, ok := m.items.Get(memoryKey(store, key))
	if !ok {
		return nil, ErrCacheMiss
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBackend) Put(ctx context.Context, store, key string, value []byte) error {
	data := make([]byte, len(value))
	copy(data, value)

	m.mu.Lock()
	m.stores[store] = struct{}{}
	m.items.Set(memoryKey(store, key), data, gocache.NoExpiration)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, store, key string) error {
	m.items.Delete(memoryKey(store, key))
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, store string) ([]string, error) {
	prefix := store + memoryKeySep
	var keys []string
	for k := range m.items.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryBackend) Close() error {
	m.items.Flush()
	return nil
}
