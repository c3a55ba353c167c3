package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNoActiveStore is returned when no version has been activated yet
	ErrNoActiveStore = errors.New("no active cache store")

	// ErrStoreRetired is returned for writes through a handle whose store
	// was deleted by a cutover
	ErrStoreRetired = errors.New("cache store retired")
)

// StoreName returns the backend name of the store for a version.
func StoreName(cacheName, version string) string {
	return cacheName + "-" + version
}

// Store is a handle on one named, versioned store.
// Handles are cheap; two handles with the same name address the same data.
type Store struct {
	name    string
	version string
	backend Backend
	codec   Codec
	manager *Manager
}

// Name returns the backend name of the store.
func (s *Store) Name() string {
	return s.name
}

// Version returns the version the store was opened for.
func (s *Store) Version() string {
	return s.version
}

// Match looks up the entry stored for key.
// Returns ErrCacheMiss if there is none.
func (s *Store) Match(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := s.backend.Get(ctx, s.name, key.String())
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	var entry CacheEntry
	if err := s.codec.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(s.codec.Name()).Inc()
	return &entry, nil
}

// Put stores (or overwrites) the entry for key.
func (s *Store) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := s.codec.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.write(ctx, key.String(), data); err != nil {
		if !errors.Is(err, ErrStoreRetired) {
			CacheErrors.WithLabelValues("set").Inc()
		}
		return err
	}

	CacheWrites.Inc()
	CacheWrittenBytes.Add(float64(len(data)))
	return nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key CacheKey) error {
	if err := s.backend.Delete(ctx, s.name, key.String()); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}

// Keys lists the request identities stored in this store.
// Reserved keys are not included.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, s.name)
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if !IsReservedKey(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ReservedKeyPrefix marks keys that are not request identities. Request keys
// always start with a method, so they never collide with it.
const ReservedKeyPrefix = "offline-proxy:"

// IsReservedKey reports whether key is a reserved (non-request) key.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, ReservedKeyPrefix)
}

// GetRaw reads a reserved key.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Get(ctx, s.name, key)
}

// PutRaw writes a reserved key.
func (s *Store) PutRaw(ctx context.Context, key string, value []byte) error {
	return s.write(ctx, key, value)
}

// write puts value unless a cutover deleted the store. Backend puts register
// the store, so a late write would otherwise bring it back.
func (s *Store) write(ctx context.Context, key string, value []byte) error {
	if s.manager != nil {
		s.manager.mu.RLock()
		defer s.manager.mu.RUnlock()
		if s.manager.isRetired(s.name) {
			return fmt.Errorf("%w: %s", ErrStoreRetired, s.name)
		}
	}
	return s.backend.Put(ctx, s.name, key, value)
}

// DeleteRaw removes a reserved key.
func (s *Store) DeleteRaw(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.name, key)
}
