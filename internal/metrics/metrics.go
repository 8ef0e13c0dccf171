package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels healed cycles.
	OutcomeSuccess = "success"
	// OutcomeFailed labels cycles whose dispatch degraded to a failure.
	OutcomeFailed = "failed"
)

var (
	healingCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsmend_heal",
			Name:      "healing_cycles_total",
			Help:      "Total number of healing cycles executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	healingCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsmend_heal",
			Name:      "healing_cycle_seconds",
			Help:      "End-to-end healing cycle latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	duplicatesSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsmend_heal",
			Name:      "duplicates_suppressed_total",
			Help:      "Healing cycles skipped because the previous cycle carried the same event key.",
		},
	)

	simulatorIterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsmend_heal",
			Name:      "simulator_iterations_total",
			Help:      "Background supervisor iterations, including quiet ones.",
		},
	)
)

// Register attaches opsmend-heal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		healingCyclesTotal,
		healingCycleSeconds,
		duplicatesSuppressedTotal,
		simulatorIterationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveHealing records a completed cycle's duration and outcome label.
func ObserveHealing(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeFailed {
		label = OutcomeSuccess
	}
	healingCyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	healingCycleSeconds.Observe(duration.Seconds())
}

// CountDuplicateSuppressed increments the dedup skip counter.
func CountDuplicateSuppressed() {
	duplicatesSuppressedTotal.Inc()
}

// CountSimulatorIteration increments the supervisor loop counter.
func CountSimulatorIteration() {
	simulatorIterationsTotal.Inc()
}
