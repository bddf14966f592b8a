package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	removeFinished  = "finished"
	removeExclusive = "exclusive"
	removeManual    = "manual"
	removeDispose   = "dispose"

	skipNotReady  = "not_ready"
	skipBusy      = "busy"
	skipSuspended = "suspended"
)

var (
	activationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_activations_total",
			Help: "Total number of rule handler runs",
		},
		[]string{"container"},
	)

	removedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_removed_total",
			Help: "Total number of rules removed from a container",
		},
		[]string{"container", "reason"},
	)

	liveRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rules_live",
			Help: "Number of rules attached to a container",
		},
		[]string{"container"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rules_handler_duration_seconds",
			Help:    "Time spent in rule handlers",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"container"},
	)

	activationSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_activation_skipped_total",
			Help: "Total number of rule activations that were not run",
		},
		[]string{"container", "reason"},
	)
)
