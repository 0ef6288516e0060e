package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerEntries tracks audit entries read back from the exchange
	ConsumerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidsync_consumer_entries_total",
		Help: "Audit entries consumed, by status (ok, malformed, out_of_order)",
	}, []string{"status"})

	// ConsumerChanges counts change summaries seen by the consumer
	ConsumerChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidsync_consumer_changes_total",
		Help: "Change records observed on the audit channel",
	}, []string{"operation", "entity"})
)
