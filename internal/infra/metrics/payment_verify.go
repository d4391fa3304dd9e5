package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentVerifyRequests,
		paymentVerifyDuration,
		paymentStateResolved,
	)
}

var (
	// Count of verify calls grouped by result and bounded reason.
	// result: ok|fail
	// reason (fail only): bad_request|missing_identifier|token_fetch|internal
	paymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of payment verify calls by result and reason.",
		},
		[]string{"result", "reason"},
	)

	paymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of the verify handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	// Canonical state each reconciliation pass resolved to, by source
	// (database|paypal|heuristic).
	paymentStateResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_state_resolved_total",
			Help: "Canonical payment states resolved, by state and source.",
		},
		[]string{"state", "source"},
	)
)

func IncVerifyRequest(result, reason string) {
	paymentVerifyRequests.WithLabelValues(norm(result), norm(reason)).Inc()
}

func ObserveVerifyDuration(result string, seconds float64) {
	paymentVerifyDuration.WithLabelValues(norm(result)).Observe(seconds)
}

func IncStateResolved(state, source string) {
	paymentStateResolved.WithLabelValues(state, norm(source)).Inc()
}
