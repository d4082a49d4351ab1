package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffusiond",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Total load attempts by outcome (ok, cancelled, failed)",
		},
		[]string{"outcome"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diffusiond",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Duration of load attempts in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"outcome"},
	)

	unloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "diffusiond",
			Subsystem: "manager",
			Name:      "unload_duration_seconds",
			Help:      "Duration of unloads in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	cleanupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffusiond",
			Subsystem: "manager",
			Name:      "cleanups_total",
			Help:      "Total resource cleanup runs by result",
		},
		[]string{"result"},
	)

	// workerBusy must never exceed 1: the worker lane has capacity one.
	workerBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "diffusiond",
			Subsystem: "manager",
			Name:      "worker_busy",
			Help:      "Whether the construction worker lane is occupied",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, unloadDuration, cleanupsTotal, workerBusy)
}

func loadsMetric(outcome string, start time.Time) {
	loadsTotal.WithLabelValues(outcome).Inc()
	loadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
