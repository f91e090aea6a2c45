// Package metrics holds the prometheus collectors of the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every collector of this package lives in.
var Registry = prometheus.NewRegistry()

var (
	// Job metrics
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dflow",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Total number of finished jobs by queue kind, job type and result",
		},
		[]string{"queue", "type", "result"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dflow",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of job processing in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"queue", "type"},
	)

	jobsQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dflow",
			Subsystem: "queue",
			Name:      "jobs_queued",
			Help:      "Number of jobs waiting by queue kind",
		},
		[]string{"queue"},
	)

	// Reconciliation metrics
	reconcileScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dflow",
			Subsystem: "reconcile",
			Name:      "scans_total",
			Help:      "Total number of tenant scans by outcome (ran, skipped, error)",
		},
		[]string{"outcome"},
	)

	reconcileTargetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dflow",
			Subsystem: "reconcile",
			Name:      "targets_total",
			Help:      "Total number of reconciled servers by resulting connection status",
		},
		[]string{"status"},
	)

	// Provisioning metrics
	pollerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dflow",
			Subsystem: "provisioning",
			Name:      "poller_transitions_total",
			Help:      "Total number of provisioning order transitions by target status",
		},
		[]string{"status"},
	)

	// Event metrics
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dflow",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by kind",
		},
		[]string{"kind"},
	)

	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dflow",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped because a subscriber was full",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		jobsTotal,
		jobDuration,
		jobsQueued,
		reconcileScansTotal,
		reconcileTargetsTotal,
		pollerTransitionsTotal,
		eventsPublishedTotal,
		eventsDroppedTotal,
	)
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordJob records a finished job.
func RecordJob(queue, jobType, result string, seconds float64) {
	jobsTotal.WithLabelValues(queue, jobType, result).Inc()
	jobDuration.WithLabelValues(queue, jobType).Observe(seconds)
}

func JobQueued(queue string)  { jobsQueued.WithLabelValues(queue).Inc() }
func JobStarted(queue string) { jobsQueued.WithLabelValues(queue).Dec() }

func RecordScan(outcome string) {
	reconcileScansTotal.WithLabelValues(outcome).Inc()
}

func RecordTarget(status string) {
	reconcileTargetsTotal.WithLabelValues(status).Inc()
}

func RecordPollerTransition(status string) {
	pollerTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordEventPublished(kind string) {
	eventsPublishedTotal.WithLabelValues(kind).Inc()
}

func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}
