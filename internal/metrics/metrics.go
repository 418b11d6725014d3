package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status class.",
		},
		[]string{"endpoint", "status"},
	)

	holdOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_outcomes_total",
			Help:      "Hold lifecycle events by outcome.",
		},
		[]string{"outcome"},
	)

	bookingsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_finalized_total",
			Help:      "Finalize attempts by result code.",
		},
		[]string{"result"},
	)

	wizardTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_transitions_total",
			Help:      "Wizard step transitions.",
		},
		[]string{"from", "to"},
	)

	releaseQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "release_queue_depth",
			Help:      "Pending hold releases waiting for retry.",
		},
	)
)

// Hold outcomes.
const (
	HoldAcquired = "acquired"
	HoldConflict = "conflict"
	HoldReleased = "released"
	HoldExpired  = "expired"
	HoldConsumed = "consumed"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			holdOutcomes,
			bookingsFinalized,
			wizardTransitions,
			releaseQueueDepth,
		)
	})
}

// IncHTTP counts a served request.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}

func IncHold(outcome string) {
	holdOutcomes.WithLabelValues(outcome).Inc()
}

func AddHold(outcome string, n int) {
	holdOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// IncFinalize counts a finalize attempt; result is "ok" or an error code.
func IncFinalize(result string) {
	bookingsFinalized.WithLabelValues(result).Inc()
}

func IncWizardTransition(from, to string) {
	wizardTransitions.WithLabelValues(from, to).Inc()
}

func SetReleaseQueueDepth(n int) {
	releaseQueueDepth.Set(float64(n))
}
