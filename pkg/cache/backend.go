package cache

import (
	"context"
)

// Backend persists named stores of raw key/value pairs.
//
// Every single-key operation must be atomic on its own; nothing is
// transactional across keys. Put registers the store if it does not exist yet.
// Get returns ErrCacheMiss when the key is absent.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Stores lists the names of all existing stores.
	Stores(ctx context.Context) ([]string, error)
	// CreateStore registers an empty store. Existing stores are left untouched.
	CreateStore(ctx context.Context, store string) error
	// DropStore deletes a store and all its entries.
	DropStore(ctx context.Context, store string) error

	Get(ctx context.Context, store, key string) ([]byte, error)
	Put(ctx context.Context, store, key string, value []byte) error
	Delete(ctx context.Context, store, key string) error
	// Keys lists every key in the store.
	Keys(ctx context.Context, store string) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
