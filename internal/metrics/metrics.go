// Package metrics exposes the bridge's component statistics as Prometheus
// collectors, grounded on the pack's infrastructure/metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the bridge's components report through.
type Metrics struct {
	TasksFetched      *prometheus.CounterVec
	TasksPublished    *prometheus.CounterVec
	TasksCompleted    *prometheus.CounterVec
	TasksFailed       *prometheus.CounterVec
	TasksMirrored     *prometheus.CounterVec
	TasksReconciled   *prometheus.CounterVec
	RecoveryStuck     prometheus.Counter
	RecoveryUnlocked  prometheus.Counter

	QueueDepth   *prometheus.GaugeVec
	QueueNacked  *prometheus.CounterVec

	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter
	CacheXMLFetches prometheus.Counter

	HandlerProcessDuration *prometheus.HistogramVec
	EngineCallDuration     *prometheus.HistogramVec
}

// New creates a Metrics instance registered against the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// for tests that want an isolated registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tasks_fetched_total",
			Help: "Total external tasks fetched and locked from the engine.",
		}, []string{"topic"}),
		TasksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tasks_published_total",
			Help: "Total WorkItems published to the main exchange.",
		}, []string{"system", "topic"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tasks_completed_total",
			Help: "Total tasks finalized as complete, failure, or bpmn_error.",
		}, []string{"response_type"}),
		TasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tasks_failed_total",
			Help: "Total tasks failed back to the engine (handler, response loop, or recovery).",
		}, []string{"source"}),
		TasksMirrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tasks_mirrored_total",
			Help: "Total SentMirror records published by handlers.",
		}, []string{"system"}),
		TasksReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tasks_reconciled_total",
			Help: "Total tasks completed out-of-band by the Reconciliation Tracker.",
		}, []string{"system"}),
		RecoveryStuck: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_recovery_stuck_total",
			Help: "Total tasks the Recovery Utility found stuck.",
		}),
		RecoveryUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_recovery_unlocked_total",
			Help: "Total tasks the Recovery Utility unlocked.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Last observed message count for a queue.",
		}, []string{"queue"}),
		QueueNacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_queue_nacked_total",
			Help: "Total messages nacked, by queue and requeue decision.",
		}, []string{"queue", "requeued"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_metadata_cache_hits_total",
			Help: "Total Metadata Cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_metadata_cache_misses_total",
			Help: "Total Metadata Cache misses.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_metadata_cache_evictions_total",
			Help: "Total Metadata Cache LRU evictions.",
		}),
		CacheXMLFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_metadata_cache_xml_fetches_total",
			Help: "Total process-definition XML fetches triggered by cache misses.",
		}),
		HandlerProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_handler_process_duration_seconds",
			Help:    "Downstream handler processing duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"system"}),
		EngineCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_engine_call_duration_seconds",
			Help:    "Engine REST call duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registerer.MustRegister(
		m.TasksFetched, m.TasksPublished, m.TasksCompleted, m.TasksFailed,
		m.TasksMirrored, m.TasksReconciled, m.RecoveryStuck, m.RecoveryUnlocked,
		m.QueueDepth, m.QueueNacked,
		m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheXMLFetches,
		m.HandlerProcessDuration, m.EngineCallDuration,
	)
	return m
}
