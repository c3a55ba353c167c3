package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the strategy executor.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_requests_total",
		Help: "Total intercepted requests by classification, strategy and outcome",
	}, []string{"class", "strategy", "outcome"})

	strategyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_proxy_strategy_duration_seconds",
		Help:    "Time to produce a response by strategy",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"strategy"})

	passthroughTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_proxy_passthrough_total",
		Help: "Requests forwarded without interception",
	})

	detachedTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_proxy_detached_tasks_in_flight",
		Help: "Detached cache writes and refreshes currently running",
	})

	detachedTaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_detached_task_failures_total",
		Help: "Detached tasks that failed by task kind",
	}, []string{"task"})
)
