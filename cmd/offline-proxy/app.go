package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/classify"
	"github.com/Sternrassler/offline-proxy/pkg/config"
	"github.com/Sternrassler/offline-proxy/pkg/connectivity"
	"github.com/Sternrassler/offline-proxy/pkg/engine"
	"github.com/Sternrassler/offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/offline-proxy/pkg/logging"
	"github.com/Sternrassler/offline-proxy/pkg/precache"
	"github.com/Sternrassler/offline-proxy/pkg/queue"
	"github.com/Sternrassler/offline-proxy/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app wires the proxy components together.
type app struct {
	cfg        config.Config
	backend    cache.Backend
	manager    *cache.Manager
	engine     *engine.Engine
	queue      *queue.Queue
	tracker    *connectivity.Tracker
	dispatcher *lifecycle.Dispatcher
	proxy      *httputil.ReverseProxy
	logger     zerolog.Logger
}

// openBackend connects the configured cache backend.
func openBackend(ctx context.Context, cfg config.Config) (cache.Backend, error) {
	switch cfg.Backend {
	case "redis":
		opts := &redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB}
		if strings.Contains(cfg.Redis.Addr, "://") {
			parsed, err := redis.ParseURL(cfg.Redis.Addr)
			if err != nil {
				return nil, fmt.Errorf("parse redis url: %w", err)
			}
			opts = parsed
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		return cache.NewRedisBackend(client, cfg.Redis.Prefix), nil

	case "sqlite":
		return cache.NewSQLiteBackend(cfg.SQLite.Path)

	case "memory":
		return cache.NewMemoryBackend(), nil

	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func newApp(cfg config.Config, backend cache.Backend) (*app, error) {
	codec, err := cache.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	manifest, err := cfg.ManifestURLs()
	if err != nil {
		return nil, err
	}

	var offlinePage []byte
	if cfg.OfflinePage != "" {
		offlinePage, err = os.ReadFile(cfg.OfflinePage)
		if err != nil {
			return nil, fmt.Errorf("read offline page: %w", err)
		}
	}

	manager := cache.NewManager(backend,
		cache.WithCodec(codec),
		cache.WithCacheName(cfg.CacheName),
		cache.WithLogger(logging.NewLogger("cache")),
	)

	tracker := connectivity.NewTracker(cfg.FailureThreshold, logging.NewLogger("connectivity"))

	client := upstream.New(upstream.Config{
		Timeout: cfg.NetworkTimeout,
		Logger:  logging.NewLogger("upstream"),
	})

	classifier := classify.New(classify.Config{
		Origin:           cfg.OriginURL(),
		ActionParam:      cfg.Classifier.ActionParam,
		SensitiveActions: cfg.Classifier.SensitiveActions,
		VolatileActions:  cfg.Classifier.VolatileActions,
		Manifest:         manifest,
		StaticExtensions: cfg.Classifier.StaticExtensions,
	})

	engineLogger := logging.NewLogger("engine")
	eng, err := engine.New(engine.Options{
		Manager:           manager,
		Fetcher:           client,
		Classifier:        classifier,
		VaryHeaders:       cfg.VaryHeaders,
		OfflinePage:       offlinePage,
		BackgroundTimeout: cfg.BackgroundTimeout,
		Observer:          tracker,
		Logger:            &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	retry := upstream.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}

	q := queue.New(manager, client,
		queue.WithRetry(retry),
		queue.WithLogger(logging.NewLogger("queue")),
	)

	warmer := precache.NewWarmer(client, precache.Config{
		MaxConcurrency: cfg.PrecacheConcurrency,
		Timeout:        cfg.NetworkTimeout,
		Retry:          &retry,
	})

	dispatcher := lifecycle.NewDispatcher(lifecycle.DefaultHandlers(lifecycle.Deps{
		Manager:  manager,
		Warmer:   warmer,
		Queue:    q,
		Version:  cfg.Version,
		Manifest: manifest,
		Logger:   logging.NewLogger("lifecycle"),
	}))

	a := &app{
		cfg:        cfg,
		backend:    backend,
		manager:    manager,
		engine:     eng,
		queue:      q,
		tracker:    tracker,
		dispatcher: dispatcher,
		logger:     logging.NewLogger("server"),
	}
	a.proxy = a.newReverseProxy()

	tracker.OnRestored(a.syncDrafts)
	return a, nil
}

func (a *app) newReverseProxy() *httputil.ReverseProxy {
	origin := a.cfg.OriginURL()
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
		Transport: a.engine,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			// only requests the engine does not intercept can fail here
			a.logger.Warn().Err(err).Str("url", r.URL.String()).Msg("Pass-through request failed")
			writeJSON(w, http.StatusBadGateway, errorBody{Error: true, Message: "Network unavailable"})
		},
	}
}

// startup installs the configured version and activates it. Requests must
// not be served before it returns.
func (a *app) startup(ctx context.Context) error {
	if err := a.dispatcher.Dispatch(ctx, lifecycle.Trigger{Kind: lifecycle.KindInstall}); err != nil {
		return err
	}
	return a.dispatcher.Dispatch(ctx, lifecycle.Trigger{Kind: lifecycle.KindActivate})
}

// syncDrafts drains the deferred write queue once connectivity is back.
func (a *app) syncDrafts() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.BackgroundTimeout)
	defer cancel()

	err := a.dispatcher.Dispatch(ctx, lifecycle.Trigger{Kind: lifecycle.KindSync, Tag: lifecycle.SyncTagDrafts})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Sync after reconnect failed")
	}
}

// shutdown waits for detached work and releases the backend.
func (a *app) shutdown(ctx context.Context) error {
	if err := a.engine.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Detached tasks did not finish in time")
	}

	done := make(chan struct{})
	go func() {
		a.tracker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	return a.backend.Close()
}
