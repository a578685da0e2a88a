// Package metrics exposes Prometheus instrumentation for the sync engine
// and the shared smoothing helper both the engine and monitor use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RollingAverage folds a new observation into a running average using the
// (old+new)/2 smoothing both the engine and monitor must agree on. This is
// a deliberate exponential-decay style approximation, not a windowed mean;
// keep the formula in this one place so the two components never drift.
func RollingAverage(old, observation float64) float64 {
	return (old + observation) / 2
}

// Collector contains all Prometheus metrics for the sync engine service.
type Collector struct {
	SyncJobsTotal     prometheus.Counter
	SyncJobsCompleted prometheus.Counter
	SyncJobsFailed    prometheus.Counter
	SyncJobsActive    prometheus.Gauge
	SyncDuration      prometheus.Histogram

	RecordsProcessed prometheus.Counter
	RecordsFailed    prometheus.Counter
	BatchRetries     prometheus.Counter

	ConflictsDetected *prometheus.CounterVec
	ConflictsResolved prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	AlertsActive    prometheus.Gauge
	AlertsTriggered *prometheus.CounterVec
}

// NewCollector creates a metrics collector registered against the given
// registerer. Tests pass a fresh registry to stay isolated.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		SyncJobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_jobs_total",
			Help: "The total number of sync jobs started",
		}),
		SyncJobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_jobs_completed_total",
			Help: "The total number of sync jobs completed successfully",
		}),
		SyncJobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_jobs_failed_total",
			Help: "The total number of sync jobs that failed",
		}),
		SyncJobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sync_engine_jobs_active",
			Help: "The number of currently running sync jobs",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_engine_job_duration_seconds",
			Help:    "The duration of sync jobs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_records_processed_total",
			Help: "The total number of records processed across all jobs",
		}),
		RecordsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_records_failed_total",
			Help: "The total number of records that failed to write",
		}),
		BatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_batch_retries_total",
			Help: "The total number of batch write retries",
		}),
		ConflictsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_engine_conflicts_detected_total",
			Help: "The total number of conflicts detected, by type",
		}, []string{"type"}),
		ConflictsResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_conflicts_resolved_total",
			Help: "The total number of conflicts resolved",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_cache_hits_total",
			Help: "The total number of result cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_engine_cache_misses_total",
			Help: "The total number of result cache misses",
		}),
		AlertsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sync_engine_alerts_active",
			Help: "The number of currently active alerts",
		}),
		AlertsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_engine_alerts_triggered_total",
			Help: "The total number of alerts triggered, by condition type",
		}, []string{"type"}),
	}
}
