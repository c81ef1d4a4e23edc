// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	// DispatchOutcomes counts createAndDispatch results by outcome
	// (sent, failed, scheduled, suppressed).
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_total",
			Help: "Notification dispatch outcomes by channel type",
		},
		[]string{"channel_type", "outcome"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_status_transitions_total",
			Help: "Notification state machine transitions",
		},
		[]string{"from", "to"},
	)

	TransportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_transport_duration_seconds",
			Help:    "Duration of transport send calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel_type", "result"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_version_conflicts_total",
			Help: "Optimistic version checks lost to a concurrent writer",
		},
	)

	DuePollBatch = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_due_poll_batch_size",
			Help:    "Number of due notifications picked up per poll",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	CatalogCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_catalog_cache_lookups_total",
			Help: "Catalog cache lookups by entity and result",
		},
		[]string{"entity", "result"},
	)
)
