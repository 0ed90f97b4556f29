package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdash",
			Subsystem: "run",
			Name:      "completed_total",
			Help:      "Completed target runs by final status.",
		}, []string{"dashboard", "status"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cmdash",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of target runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"dashboard"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cmdash",
			Subsystem: "run",
			Name:      "queue_depth",
			Help:      "Pending run requests waiting for a slot.",
		}, []string{"dashboard"},
	)
	inflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cmdash",
			Subsystem: "run",
			Name:      "inflight",
			Help:      "Target runs currently executing.",
		}, []string{"dashboard"},
	)
	configuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdash",
			Subsystem: "configure",
			Name:      "completed_total",
			Help:      "Completed module configures by final status.",
		}, []string{"dashboard", "status"},
	)
	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdash",
			Subsystem: "dashboard",
			Name:      "refreshes_total",
			Help:      "Full dashboard refreshes.",
		}, []string{"dashboard"},
	)
	modulesDiscovered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cmdash",
			Subsystem: "dashboard",
			Name:      "modules",
			Help:      "Modules discovered in the last refresh.",
		}, []string{"dashboard"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsTotal, runDuration, queueDepth, inflight, configuresTotal, refreshesTotal, modulesDiscovered}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncRun(dashboard, status string) {
	if regOK.Load() {
		runsTotal.WithLabelValues(dashboard, status).Inc()
	}
}

func ObserveRunDuration(dashboard string, seconds float64) {
	if regOK.Load() {
		runDuration.WithLabelValues(dashboard).Observe(seconds)
	}
}

func SetQueueDepth(dashboard string, n int) {
	if regOK.Load() {
		queueDepth.WithLabelValues(dashboard).Set(float64(n))
	}
}

func SetInflight(dashboard string, n int) {
	if regOK.Load() {
		inflight.WithLabelValues(dashboard).Set(float64(n))
	}
}

func IncConfigure(dashboard, status string) {
	if regOK.Load() {
		configuresTotal.WithLabelValues(dashboard, status).Inc()
	}
}

func IncRefresh(dashboard string) {
	if regOK.Load() {
		refreshesTotal.WithLabelValues(dashboard).Inc()
	}
}

func SetModules(dashboard string, n int) {
	if regOK.Load() {
		modulesDiscovered.WithLabelValues(dashboard).Set(float64(n))
	}
}
