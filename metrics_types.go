package floyd

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds Prometheus metrics for monitoring the replication core.
type metrics struct {
	// id is the node ID used as a label for the metrics
	id string

	// registry holds every collector below so callers can expose
	// them without touching the default registry
	registry *prometheus.Registry

	// appendedEntries counts entries appended to the durable log
	appendedEntries *prometheus.CounterVec

	// truncatedEntries counts entries dropped by suffix truncation
	truncatedEntries *prometheus.CounterVec

	// segmentRotations counts active segment rotations
	segmentRotations *prometheus.CounterVec

	// rpcFailures counts failed transport round trips per peer
	rpcFailures *prometheus.CounterVec

	// heartbeat is an histogram of heartbeat round trip durations per peer
	heartbeat *prometheus.HistogramVec
}
