package floyd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newMetrics initialize Prometheus metrics for monitoring node.
func newMetrics(nodeId, namespace string) *metrics {
	z := &metrics{
		id:       nodeId,
		registry: prometheus.NewRegistry(),
		appendedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "floyd",
				Name:      "log_appended_entries_total",
				Help:      "Number of entries appended to the durable log",
			},
			[]string{"node_id"},
		),
		truncatedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "floyd",
				Name:      "log_truncated_entries_total",
				Help:      "Number of entries removed by suffix truncation",
			},
			[]string{"node_id"},
		),
		segmentRotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "floyd",
				Name:      "log_segment_rotations_total",
				Help:      "Number of active segment rotations",
			},
			[]string{"node_id"},
		),
		rpcFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "floyd",
				Name:      "rpc_failures_total",
				Help:      "Number of failed transport round trips",
			},
			[]string{"node_id", "peer"},
		),
		heartbeat: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "floyd",
				Name:      "heartbeat_duration_seconds",
				Help:      "Heartbeat round trip duration",
			},
			[]string{"node_id", "peer"},
		),
	}

	// Make sure to register them all, otherwise, no metrics will be found
	z.registry.MustRegister(z.appendedEntries)
	z.registry.MustRegister(z.truncatedEntries)
	z.registry.MustRegister(z.segmentRotations)
	z.registry.MustRegister(z.rpcFailures)
	z.registry.MustRegister(z.heartbeat)

	return z
}

// Registry exposes the collectors of this node.
func (m *metrics) Registry() *prometheus.Registry {
	return m.registry
}

// addAppendedEntries increments the appended entries counter.
func (m *metrics) addAppendedEntries(n int) {
	if m == nil {
		return
	}
	m.appendedEntries.With(prometheus.Labels{"node_id": m.id}).Add(float64(n))
}

// addTruncatedEntries increments the truncated entries counter.
func (m *metrics) addTruncatedEntries(n int) {
	if m == nil {
		return
	}
	m.truncatedEntries.With(prometheus.Labels{"node_id": m.id}).Add(float64(n))
}

// addSegmentRotation increments the segment rotation counter.
func (m *metrics) addSegmentRotation() {
	if m == nil {
		return
	}
	m.segmentRotations.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// addRPCFailure increments the failed round trip counter for a peer.
func (m *metrics) addRPCFailure(peer string) {
	if m == nil {
		return
	}
	m.rpcFailures.With(prometheus.Labels{"node_id": m.id, "peer": peer}).Inc()
}

// observeHeartbeat records a heartbeat round trip duration for a peer.
func (m *metrics) observeHeartbeat(peer string, start time.Time) {
	if m == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Second)
	m.heartbeat.With(prometheus.Labels{"node_id": m.id, "peer": peer}).Observe(elapsed)
}
