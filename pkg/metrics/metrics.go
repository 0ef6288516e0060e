package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPasses counts finished passes by result (ok, storage_error)
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidsync_passes_total",
		Help: "Total number of sync passes executed by the orchestrator",
	}, []string{"result"})

	// DroppedPasses counts trigger requests that arrived while a pass was running
	// A steady increase means the interval is shorter than a pass takes
	DroppedPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidsync_passes_dropped_total",
		Help: "Pass requests dropped because another pass was in progress",
	})

	// PropagationAttempts tracks every post to a target platform
	// Labels: platform, status (synced/error)
	PropagationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidsync_propagation_attempts_total",
		Help: "Posts attempted against target platforms",
	}, []string{"platform", "status"})

	// PassDuration measures how long a full sweep takes
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aidsync_pass_duration_seconds",
		Help:    "Duration of a sync pass in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// LastSync is the unix time of the last completed pass
	LastSync = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aidsync_last_sync_timestamp_seconds",
		Help: "Unix timestamp of the last completed sync pass",
	})

	// AuditTransactions counts audit appends by outcome (confirmed, unconfirmed, local)
	AuditTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidsync_audit_transactions_total",
		Help: "Audit transactions by delivery outcome",
	}, []string{"outcome"})

	// ConflictResolutions counts resolver decisions by policy and outcome (resolved/queued/error)
	ConflictResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidsync_conflict_resolutions_total",
		Help: "Conflict resolutions by policy and outcome",
	}, []string{"policy", "outcome"})

	// SinkHealth provides a binary 0/1 signal for the audit sink link
	SinkHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aidsync_audit_sink_healthy",
		Help: "Current health of the audit sink connection (1 healthy, 0 down)",
	})
)
