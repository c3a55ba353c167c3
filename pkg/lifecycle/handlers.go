package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/precache"
	"github.com/Sternrassler/offline-proxy/pkg/queue"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of the default handlers.
type Deps struct {
	Manager  *cache.Manager
	Warmer   *precache.Warmer
	Queue    *queue.Queue
	Version  string
	Manifest []string
	Logger   zerolog.Logger
}

// DefaultHandlers returns the handler table for every trigger kind.
func DefaultHandlers(deps Deps) map[Kind]Handler {
	return map[Kind]Handler{
		KindInstall:     InstallHandler(deps.Manager, deps.Warmer, deps.Version, deps.Manifest, deps.Logger),
		KindActivate:    ActivateHandler(deps.Manager, deps.Version, false, deps.Logger),
		KindTakeOverNow: ActivateHandler(deps.Manager, deps.Version, true, deps.Logger),
		KindPurge:       PurgeHandler(deps.Manager),
		KindStoreThis:   StoreThisHandler(deps.Manager),
		KindSync:        SyncHandler(deps.Queue, deps.Logger),
	}
}

// InstallHandler precaches the manifest into the store for version. It does
// not activate the version. Failed manifest entries do not fail the install.
func InstallHandler(manager *cache.Manager, warmer *precache.Warmer, version string, manifest []string, logger zerolog.Logger) Handler {
	return func(ctx context.Context, t Trigger) error {
		store, err := manager.Open(ctx, version)
		if err != nil {
			return err
		}
		if warmer == nil || len(manifest) == 0 {
			logger.Info().Str("version", version).Msg("Install without precache")
			return nil
		}

		result := warmer.Precache(ctx, store, manifest)
		logger.Info().
			Str("version", version).
			Int("stored", len(result.Stored)).
			Int("failed", len(result.Failed)).
			Msg("Install complete")
		return nil
	}
}

// ActivateHandler cuts over to version. forced marks a take-over-now message;
// the cutover itself is the same.
func ActivateHandler(manager *cache.Manager, version string, forced bool, logger zerolog.Logger) Handler {
	return func(ctx context.Context, t Trigger) error {
		if err := manager.ActivateVersion(ctx, version); err != nil {
			return err
		}
		logger.Info().
			Str("version", version).
			Bool("forced", forced).
			Msg("Version active")
		return nil
	}
}

// PurgeHandler deletes the active store outright.
func PurgeHandler(manager *cache.Manager) Handler {
	return func(ctx context.Context, t Trigger) error {
		return manager.Purge(ctx)
	}
}

// StoreThisHandler writes the caller's URL and response into the active
// store, bypassing classification.
func StoreThisHandler(manager *cache.Manager) Handler {
	return func(ctx context.Context, t Trigger) error {
		p := t.StoreThis
		if p == nil {
			return errors.New("store-this requires a payload")
		}

		key, err := cache.KeyFromURL(p.URL)
		if err != nil {
			return err
		}

		status := p.Status
		if status == 0 {
			status = http.StatusOK
		}

		return manager.StoreThis(ctx, key, &cache.CacheEntry{
			Data:       []byte(p.Body),
			StatusCode: status,
			Headers:    http.Header(p.Headers).Clone(),
			CachedAt:   time.Now(),
		})
	}
}

// SyncHandler drains the deferred write queue for the sync-drafts tag.
// Other tags are ignored.
func SyncHandler(q *queue.Queue, logger zerolog.Logger) Handler {
	return func(ctx context.Context, t Trigger) error {
		if t.Tag != SyncTagDrafts {
			logger.Debug().Str("tag", t.Tag).Msg("Ignoring sync tag")
			return nil
		}
		if q == nil {
			return fmt.Errorf("no deferred write queue configured")
		}
		_, err := q.Drain(ctx)
		return err
	}
}
