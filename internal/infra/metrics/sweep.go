package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(sweepResolutionsTotal, orphansRecoveredTotal) }

var (
	// resolution: captured|completed|failed|expired|skipped
	// sweep: fast|slow|manual
	sweepResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_sweep_resolutions_total",
			Help: "Stuck-transaction resolutions per sweep pass.",
		},
		[]string{"sweep", "resolution"},
	)

	orphansRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orphans_recovered_total",
			Help: "Completed transactions repaired with a missing subscription.",
		},
	)
)

func AddSweepResolution(sweep, resolution string, n int) {
	if n > 0 {
		sweepResolutionsTotal.WithLabelValues(norm(sweep), norm(resolution)).Add(float64(n))
	}
}

func AddOrphansRecovered(n int) {
	if n > 0 {
		orphansRecoveredTotal.Add(float64(n))
	}
}
