package runtime

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_runs_total",
			Help: "Total number of completed run requests by outcome.",
		},
		[]string{"status"},
	)

	runsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_inflight_runs",
			Help: "Number of runs currently dispatched to devices.",
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gantry_run_duration_seconds",
			Help:    "Run duration from dispatch to join completion in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	networksRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_networks_registered",
			Help: "Number of networks currently registered.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runsInflight)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(networksRegistered)
}
