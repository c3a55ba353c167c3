package connectivity

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for connectivity tracking.
var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_proxy_online",
		Help: "1 while the upstream network is considered reachable, 0 while offline",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_connectivity_transitions_total",
		Help: "Total connectivity state changes by new state",
	}, []string{"state"})
)

func init() {
	onlineGauge.Set(1)
}

// Tracker follows upstream outcomes. It implements upstream.Observer.
type Tracker struct {
	threshold int
	logger    zerolog.Logger

	mu         sync.Mutex
	state      State
	onRestored []func()
	callbacks  sync.WaitGroup
}

// NewTracker creates a tracker that starts online.
func NewTracker(failureThreshold int, logger zerolog.Logger) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Tracker{
		threshold: failureThreshold,
		logger:    logger,
		state: State{
			Online:     true,
			LastChange: time.Now(),
		},
	}
}

// OnRestored registers fn to run (in its own goroutine) each time the
// tracker goes from offline back to online.
func (t *Tracker) OnRestored(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRestored = append(t.onRestored, fn)
}

// Observe records one upstream outcome; err is nil when a response arrived.
func (t *Tracker) Observe(err error) {
	t.mu.Lock()

	now := time.Now()
	if err != nil {
		t.state.ConsecutiveFailures++
		if t.state.Online && t.state.ConsecutiveFailures >= t.threshold {
			t.state.Online = false
			t.state.LastChange = now
			onlineGauge.Set(0)
			transitionsTotal.WithLabelValues("offline").Inc()
			t.logger.Warn().
				Err(err).
				Int("consecutive_failures", t.state.ConsecutiveFailures).
				Msg("Network unavailable, switching to offline mode")
		}
		t.mu.Unlock()
		return
	}

	t.state.ConsecutiveFailures = 0
	t.state.LastSuccess = now
	if t.state.Online {
		t.mu.Unlock()
		return
	}

	offlineFor := now.Sub(t.state.LastChange)
	t.state.Online = true
	t.state.LastChange = now
	callbacks := append([]func(){}, t.onRestored...)
	t.mu.Unlock()

	onlineGauge.Set(1)
	transitionsTotal.WithLabelValues("online").Inc()
	t.logger.Info().
		Dur("offline_for", offlineFor).
		Msg("Connectivity restored")

	for _, fn := range callbacks {
		fn := fn
		t.callbacks.Add(1)
		go func() {
			defer t.callbacks.Done()
			fn()
		}()
	}
}

// State returns a snapshot of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Online reports whether the network is considered reachable.
func (t *Tracker) Online() bool {
	return t.State().Online
}

// Wait blocks until all running restore callbacks have returned.
func (t *Tracker) Wait() {
	t.callbacks.Wait()
}
