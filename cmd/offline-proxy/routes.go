package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Sternrassler/offline-proxy/pkg/cache"
	"github.com/Sternrassler/offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/offline-proxy/pkg/metrics"
	"github.com/Sternrassler/offline-proxy/pkg/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxControlBody bounds JSON bodies of the control endpoints.
const maxControlBody = 1 << 20

type errorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// routes mounts the control endpoints; everything else is proxied.
func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/_offline", func(r chi.Router) {
		r.Get("/status", a.statusHandler)
		r.Post("/triggers/{kind}", a.triggerHandler)
		r.Get("/queue", a.pendingHandler)
		r.Post("/queue", a.enqueueHandler)
	})

	r.NotFound(a.proxy.ServeHTTP)
	r.MethodNotAllowed(a.proxy.ServeHTTP)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.backend.Ping(r.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: true, Message: "cache backend unavailable"})
		return
	}
	if a.manager.Current() == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: true, Message: "no active cache version"})
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "READY")
}

type statusResponse struct {
	Version  string           `json:"version"`
	Store    string           `json:"store,omitempty"`
	Online   bool             `json:"online"`
	Pending  int              `json:"pending"`
	Triggers []lifecycle.Kind `json:"triggers"`
}

func (a *app) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := statusResponse{
		Version:  a.cfg.Version,
		Online:   a.tracker.Online(),
		Triggers: a.dispatcher.Kinds(),
	}
	if s := a.manager.Current(); s != nil {
		status.Store = s.Name()
		if pending, err := a.queue.Pending(r.Context()); err == nil {
			status.Pending = len(pending)
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *app) triggerHandler(w http.ResponseWriter, r *http.Request) {
	var t lifecycle.Trigger
	if err := decodeOptional(r, &t); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: true, Message: err.Error()})
		return
	}
	t.Kind = lifecycle.Kind(chi.URLParam(r, "kind"))
	if t.StoreThis != nil {
		ref, err := url.Parse(t.StoreThis.URL)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: true, Message: "storeThis.url must be a valid URL"})
			return
		}
		t.StoreThis.URL = a.cfg.OriginURL().ResolveReference(ref).String()
	}

	if err := a.dispatcher.Dispatch(r.Context(), t); err != nil {
		writeJSON(w, statusForError(err), errorBody{Error: true, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": string(t.Kind), "status": "ok"})
}

func (a *app) pendingHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := a.queue.Pending(r.Context())
	if err != nil {
		writeJSON(w, statusForError(err), errorBody{Error: true, Message: err.Error()})
		return
	}
	if pending == nil {
		pending = []queue.DeferredWrite{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *app) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	var write queue.DeferredWrite
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&write); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: true, Message: fmt.Sprintf("decode deferred write: %v", err)})
		return
	}

	// origin-relative targets are resolved against the origin
	target, err := url.Parse(write.TargetURL)
	if err != nil || write.TargetURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: true, Message: "targetUrl must be a valid URL"})
		return
	}
	write.TargetURL = a.cfg.OriginURL().ResolveReference(target).String()

	queued, err := a.queue.Enqueue(r.Context(), write)
	if err != nil {
		writeJSON(w, statusForError(err), errorBody{Error: true, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, queued)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownTrigger):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrNoActiveStore):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode trigger: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
