// Package metrics holds the Prometheus collectors of one replicator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "zeusync"
	subsystem = "replication"
)

// Staging outcomes.
const (
	OutcomeValid    = "valid"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	PacketsSent      prometheus.Counter
	BytesSent        prometheus.Counter
	SendErrors       prometheus.Counter
	EntityUpdates    prometheus.Counter
	EntityDeletions  prometheus.Counter
	ThrottledUpdates prometheus.Counter
	PacketsReceived  prometheus.Counter
	ReceiveErrors    prometheus.Counter
	StagedUpdates    *prometheus.CounterVec
	Connections      prometheus.Gauge
	TrackedOriginals prometheus.Gauge
	TickDuration     prometheus.Histogram
}

// New registers a fresh set of collectors on reg. Each replicator needs its
// own registerer; registering twice on one panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PacketsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_sent_total",
			Help: "Packets handed to transports.",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "bytes_sent_total",
			Help: "Packet bytes handed to transports.",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "send_errors_total",
			Help: "Packets a transport failed to send.",
		}),
		EntityUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "entity_updates_total",
			Help: "Full-state entity updates queued, counted per recipient.",
		}),
		EntityDeletions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "entity_deletions_total",
			Help: "Deletion notices queued, counted per recipient.",
		}),
		ThrottledUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "throttled_updates_total",
			Help: "Modified entities deferred by their update frequency cap.",
		}),
		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_received_total",
			Help: "Inbound packets decoded.",
		}),
		ReceiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "receive_errors_total",
			Help: "Transport receive failures and malformed packets.",
		}),
		StagedUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "staged_updates_total",
			Help: "Inbound entity updates leaving staging, by outcome.",
		}, []string{"outcome"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections",
			Help: "Connections on the live roster.",
		}),
		TrackedOriginals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "tracked_originals",
			Help: "Authoritative entities holding a wire id.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "tick_duration_seconds",
			Help:    "Wall time of one replication tick.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}),
	}
}

// NewUnregistered builds collectors on a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
