package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultCacheName is the store name prefix used when none is configured.
const DefaultCacheName = "offline-proxy"

// Manager owns the store lifecycle: it opens versions, performs the cutover
// that deletes superseded versions, and hands out the active store.
type Manager struct {
	backend   Backend
	codec     Codec
	cacheName string
	logger    zerolog.Logger

	// cutovers and purges hold it exclusively; store writes share it
	mu      sync.RWMutex
	current atomic.Pointer[Store]

	// stores deleted by a cutover; handles on them no longer write
	retiredMu sync.Mutex
	retired   map[string]struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCodec sets the entry codec (default JSON).
func WithCodec(codec Codec) ManagerOption {
	return func(m *Manager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithCacheName sets the store name prefix.
func WithCacheName(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.cacheName = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new store manager on top of backend.
func NewManager(backend Backend, opts ...ManagerOption) *Manager {
	if backend == nil {
		panic("cache backend cannot be nil")
	}
	m := &Manager{
		backend:   backend,
		codec:     JSONCodec{},
		cacheName: DefaultCacheName,
		logger:    zerolog.Nop(),
		retired:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the underlying backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

func (m *Manager) handle(version string) *Store {
	return &Store{
		name:    StoreName(m.cacheName, version),
		version: version,
		backend: m.backend,
		codec:   m.codec,
		manager: m,
	}
}

func (m *Manager) retire(name string) {
	m.retiredMu.Lock()
	m.retired[name] = struct{}{}
	m.retiredMu.Unlock()
}

func (m *Manager) revive(name string) {
	m.retiredMu.Lock()
	delete(m.retired, name)
	m.retiredMu.Unlock()
}

func (m *Manager) isRetired(name string) bool {
	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()
	_, ok := m.retired[name]
	return ok
}

// Open returns the store for version, creating it if absent. Idempotent.
func (m *Manager) Open(ctx context.Context, version string) (*Store, error) {
	if version == "" {
		return nil, fmt.Errorf("version cannot be empty")
	}
	s := m.handle(version)
	if err := m.backend.CreateStore(ctx, s.name); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("open store %s: %w", s.name, err)
	}
	m.revive(s.name)
	return s, nil
}

// ActivateVersion makes version the only store: it opens it, deletes every
// other store and then swaps the active handle. Callers must not serve
// requests under the new version before it returns.
func (m *Manager) ActivateVersion(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.Open(ctx, version)
	if err != nil {
		return err
	}

	names, err := m.backend.Stores(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("activate").Inc()
		return fmt.Errorf("list stores: %w", err)
	}

	for _, name := range names {
		if name == s.name {
			continue
		}
		if err := m.backend.DropStore(ctx, name); err != nil {
			CacheErrors.WithLabelValues("activate").Inc()
			return fmt.Errorf("delete superseded store %s: %w", name, err)
		}
		m.retire(name)
		StoresDeleted.Inc()
		m.logger.Info().Str("store", name).Msg("Deleted superseded cache store")
	}

	prev := m.current.Swap(s)
	if prev == nil || prev.name != s.name {
		m.logger.Info().
			Str("store", s.name).
			Str("version", version).
			Msg("Cache store activated")
	}
	return nil
}

// Current returns the active store, or nil before the first activation.
func (m *Manager) Current() *Store {
	return m.current.Load()
}

// Purge deletes the active store outright. The handle stays active and the
// store comes back on the next write.
func (m *Manager) Purge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current.Load()
	if s == nil {
		return ErrNoActiveStore
	}
	if err := m.backend.DropStore(ctx, s.name); err != nil {
		CacheErrors.WithLabelValues("purge").Inc()
		return fmt.Errorf("purge store %s: %w", s.name, err)
	}
	m.logger.Info().Str("store", s.name).Msg("Cache store purged")
	return nil
}

// StoreThis writes entry under key into the active store, bypassing
// classification.
func (m *Manager) StoreThis(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	s := m.current.Load()
	if s == nil {
		return ErrNoActiveStore
	}
	return s.Put(ctx, key, entry)
}
