// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awtrix_task_runs_total",
		Help: "Bounded task executions by outcome.",
	}, []string{"task", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "awtrix_task_duration_seconds",
		Help:    "Time until a task completed, failed or was abandoned.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awtrix_stale_fallbacks_total",
		Help: "Cached payloads substituted for timed out or failed runs.",
	}, []string{"task"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awtrix_deliveries_total",
		Help: "Published payloads by status.",
	}, []string{"status"})

	cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awtrix_cycles_total",
		Help: "Orchestrator cycles by result (run, off_hours).",
	}, []string{"result"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "awtrix_cycle_duration_seconds",
		Help:    "Wall time of one orchestrator cycle including delivery.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// LastCycle is the unix time of the last completed cycle.
	LastCycle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "awtrix_last_cycle_timestamp_seconds",
		Help: "Unix time of the last completed cycle.",
	})
)

func ObserveTask(name, outcome string, d time.Duration) {
	taskRuns.WithLabelValues(name, outcome).Inc()
	taskDuration.WithLabelValues(name).Observe(d.Seconds())
}

func Fallback(name string) { fallbacks.WithLabelValues(name).Inc() }

func Delivery(ok bool) {
	if ok {
		deliveries.WithLabelValues("ok").Inc()
		return
	}
	deliveries.WithLabelValues("error").Inc()
}

func Cycle(result string, d time.Duration) {
	cycles.WithLabelValues(result).Inc()
	if result == "run" {
		cycleDuration.Observe(d.Seconds())
		LastCycle.SetToCurrentTime()
	}
}
