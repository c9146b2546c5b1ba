package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the yroom gateway and core.
//
// Naming convention: namespace_subsystem_name
//   - namespace: yroom (application-level grouping)
//   - subsystem: websocket, room, awareness, rate_limit (feature-level grouping)
//   - name: specific metric (connections_active, messages_total, etc.)
//
// Metric Types:
//   - Gauge: current state (connections, rooms, awareness clients)
//   - Counter: cumulative events (messages processed, decode errors)
//   - Histogram: latency distributions (message processing time)
var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yroom",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of constructed rooms (a room
	// counts here from its first Connect/HandleMessage until RemoveRoom,
	// regardless of whether any connection is currently registered - see
	// RoomConnections for the per-room connection count that determines
	// is_alive).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yroom",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of constructed rooms",
	})

	// RoomConnections tracks the number of registered connections per room.
	RoomConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yroom",
		Subsystem: "room",
		Name:      "connections_count",
		Help:      "Number of registered connections in each room",
	}, []string{"room"})

	// AwarenessClients tracks the number of awareness entries per room.
	AwarenessClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yroom",
		Subsystem: "awareness",
		Name:      "clients_count",
		Help:      "Number of awareness client entries in each room",
	}, []string{"room"})

	// MessagesTotal tracks the total number of protocol messages handled, by kind and outcome.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yroom",
		Subsystem: "room",
		Name:      "messages_total",
		Help:      "Total protocol messages handled",
	}, []string{"kind", "outcome"})

	// MessageProcessingDuration tracks the time spent processing inbound frames.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yroom",
		Subsystem: "room",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing an inbound frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"kind"})

	// WebsocketEvents tracks the total number of WebSocket transport events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yroom",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket transport events processed",
	}, []string{"event_type", "status"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yroom",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yroom",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
