// Package metrics exposes the prometheus instruments for the sync server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tandem_connections",
		Help: "Live websocket connections.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_sessions_created_total",
		Help: "Sessions created over the websocket and REST surfaces.",
	})
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_messages_routed_total",
		Help: "Inbound envelopes dispatched, by kind.",
	}, []string{"kind"})
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_protocol_errors_total",
		Help: "Malformed or unknown inbound envelopes.",
	})
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tandem_broadcast_fanout",
		Help:    "Receivers per broadcast.",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	})
)
