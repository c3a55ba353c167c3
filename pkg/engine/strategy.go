package engine

import (
	"context"
	"net/http"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/rs/zerolog"
)

// networkOnly never touches the store.
func (e *Engine) networkOnly(req *http.Request) (*http.Response, string) {
	resp := e.fetch(req)
	if resp == nil {
		return unavailableJSON(req), outcomeUnavailable
	}
	return resp, outcomeNetwork
}

// networkFirst returns the network response and stores successes in the
// background; the cached copy is only used when the network is unavailable.
func (e *Engine) networkFirst(req *http.Request, key cache.CacheKey, logger zerolog.Logger) (*http.Response, string) {
	store := e.manager.Current()

	if resp := e.fetch(req); resp != nil {
		e.storeLater(req, store, key, resp, logger)
		return resp, outcomeNetwork
	}

	if store != nil {
		if entry := e.lookup(req.Context(), store, key, logger); entry != nil {
			logger.Debug().Msg("Serving cached copy while offline")
			return cache.EntryToResponse(entry, req), outcomeCache
		}
	}
	return unavailableJSON(req), outcomeUnavailable
}

// cacheFirst returns the stored entry as-is and refreshes it in the background.
func (e *Engine) cacheFirst(req *http.Request, store *cache.Store, key cache.CacheKey, entry *cache.CacheEntry, logger zerolog.Logger) (*http.Response, string) {
	resp := cache.EntryToResponse(entry, req)

	// the refresh always fetches the full body, also for HEAD hits
	refresh := req.Clone(req.Context())
	refresh.Method = http.MethodGet
	refresh.Body = http.NoBody
	refresh.GetBody = nil
	refresh.ContentLength = 0

	e.tasks.Go(req.Context(), func(ctx context.Context) {
		fresh := e.fetch(refresh.WithContext(ctx))
		if fresh == nil {
			logger.Debug().Msg("Background refresh skipped, network unavailable")
			return
		}
		defer fresh.Body.Close()

		if !cache.IsStorableStatus(fresh.StatusCode) {
			logger.Debug().Int("status_code", fresh.StatusCode).Msg("Background refresh not stored")
			return
		}

		updated, err := cache.ResponseToEntry(fresh)
		if err != nil {
			detachedTaskFailures.WithLabelValues("refresh").Inc()
			logger.Debug().Err(err).Msg("Background refresh failed")
			return
		}
		if err := store.Put(ctx, key, updated); err != nil {
			detachedTaskFailures.WithLabelValues("refresh").Inc()
			logger.Debug().Err(err).Msg("Background refresh write failed")
			return
		}
		logger.Debug().Str("key", key.String()).Msg("Cache entry refreshed")
	})

	return resp, outcomeCache
}

// networkOnMiss fetches and stores successes. When offline, navigations get
// the placeholder page and everything else an empty 503.
func (e *Engine) networkOnMiss(req *http.Request, store *cache.Store, key cache.CacheKey, logger zerolog.Logger) (*http.Response, string) {
	if resp := e.fetch(req); resp != nil {
		e.storeLater(req, store, key, resp, logger)
		return resp, outcomeNetwork
	}

	if IsNavigation(req) {
		return offlinePage(req, e.offlinePage), outcomeOfflinePage
	}
	return unavailableEmpty(req), outcomeUnavailable
}
