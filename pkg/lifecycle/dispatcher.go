// Package lifecycle maps external triggers (install, activate, control
// messages and sync signals) to their handlers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnknownTrigger is returned for trigger kinds without a handler.
var ErrUnknownTrigger = errors.New("unknown trigger")

var triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_proxy_triggers_total",
	Help: "Total lifecycle triggers dispatched by kind and result",
}, []string{"kind", "result"})

// Kind identifies a trigger.
type Kind string

const (
	KindInstall     Kind = "install"
	KindActivate    Kind = "activate"
	KindTakeOverNow Kind = "take-over-now"
	KindPurge       Kind = "purge"
	KindStoreThis   Kind = "store-this"
	KindSync        Kind = "sync"
)

// SyncTagDrafts is the sync tag that drains the deferred write queue.
const SyncTagDrafts = "sync-drafts"

// StoreThisPayload is the key/value pair of a store-this message.
type StoreThisPayload struct {
	URL     string              `json:"url"`
	Status  int                 `json:"status,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body"`
}

// Trigger is one external lifecycle event.
type Trigger struct {
	Kind      Kind              `json:"kind"`
	Tag       string            `json:"tag,omitempty"`
	StoreThis *StoreThisPayload `json:"storeThis,omitempty"`
}

// Handler handles one trigger kind.
type Handler func(ctx context.Context, t Trigger) error

// Dispatcher routes triggers to handlers.
type Dispatcher struct {
	handlers map[Kind]Handler
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given handlers.
func NewDispatcher(handlers map[Kind]Handler) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[Kind]Handler, len(handlers)),
		logger:   log.With().Str("component", "lifecycle").Logger(),
	}
	for kind, h := range handlers {
		d.handlers[kind] = h
	}
	return d
}

// Kinds lists the registered trigger kinds.
func (d *Dispatcher) Kinds() []Kind {
	kinds := make([]Kind, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch runs the handler for t.Kind.
func (d *Dispatcher) Dispatch(ctx context.Context, t Trigger) error {
	h, ok := d.handlers[t.Kind]
	if !ok {
		triggersTotal.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, t.Kind)
	}

	d.logger.Debug().Str("kind", string(t.Kind)).Str("tag", t.Tag).Msg("Dispatching trigger")

	if err := h(ctx, t); err != nil {
		triggersTotal.WithLabelValues(string(t.Kind), "error").Inc()
		d.logger.Error().Err(err).Str("kind", string(t.Kind)).Msg("Trigger failed")
		return fmt.Errorf("%s: %w", t.Kind, err)
	}
	triggersTotal.WithLabelValues(string(t.Kind), "ok").Inc()
	return nil
}
