package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts successful settlement transitions and classified
// failures across the marketplace engines.
type SettlementMetrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics collector,
// registering it on first use.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_transitions_total",
				Help: "Count of successful settlement state transitions by operation.",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_failures_total",
				Help: "Count of rejected settlement operations by error kind.",
			}, []string{"op", "kind"}),
		}
		prometheus.MustRegister(
			settlementRegistry.transitions,
			settlementRegistry.failures,
		)
	})
	return settlementRegistry
}

// RecordTransition counts a committed state transition.
func (m *SettlementMetrics) RecordTransition(op string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op).Inc()
}

// RecordFailure counts a rejected operation under its taxonomy kind.
func (m *SettlementMetrics) RecordFailure(op, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, kind).Inc()
}
