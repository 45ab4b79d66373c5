// Package metrics declares the Prometheus collectors deploydash exports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound message metrics
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deploydash_messages_received_total",
			Help: "Total number of messages received from the bus",
		},
	)

	MessagesUnmatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deploydash_messages_unmatched_total",
			Help: "Messages that matched no registered filter",
		},
	)

	HandlerDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploydash_handler_deliveries_total",
			Help: "Messages delivered to a subscription handler",
		},
		[]string{"filter"},
	)

	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploydash_handler_failures_total",
			Help: "Subscription handlers that returned an error or panicked",
		},
		[]string{"filter"},
	)

	RejectedUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploydash_rejected_updates_total",
			Help: "Status updates rejected by the aggregator",
		},
		[]string{"reason"},
	)

	// Connection metrics
	ConnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deploydash_connect_attempts_total",
			Help: "Connection attempts made to the bus",
		},
	)

	ConnectFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deploydash_connect_failures_total",
			Help: "Connection attempts that failed",
		},
	)

	ConnectionsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deploydash_connections_lost_total",
			Help: "Established connections that dropped unexpectedly",
		},
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deploydash_connection_state",
			Help: "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=failed)",
		},
	)

	Publishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploydash_publishes_total",
			Help: "Messages published to the bus",
		},
		[]string{"topic", "result"},
	)

	// Board metrics
	Recomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deploydash_recomputes_total",
			Help: "Debounced recompute and render cycles",
		},
	)

	RenderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploydash_render_failures_total",
			Help: "Renderers that failed to render a snapshot",
		},
		[]string{"renderer"},
	)

	JobsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deploydash_jobs_tracked",
			Help: "Jobs currently known to the board",
		},
	)
)
