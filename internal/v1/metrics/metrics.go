package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the push-to-talk signaling service.
//
// Naming convention: namespace_subsystem_name
// - namespace: ptt (application-level grouping)
// - subsystem: websocket, room, floor, push, external
//
// Metric Types:
// - Gauge: Current state (connections, rooms, members)
// - Counter: Cumulative events (frames processed, grants, denials)
// - Histogram: Distributions (floor hold time, processing latency)

var (
	// ActiveConnections tracks the current number of active WebSocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the roster size per room
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks processed inbound frames by type and outcome
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"event_type", "status"})

	// FloorRequests tracks floor arbitration outcomes
	FloorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "floor",
		Name:      "requests_total",
		Help:      "Total floor requests by arbitration result",
	}, []string{"result"})

	// FloorReleases tracks how held floors end
	FloorReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "floor",
		Name:      "releases_total",
		Help:      "Total floor releases by cause",
	}, []string{"cause"})

	// FloorHoldDuration observes how long speakers held the floor
	FloorHoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ptt",
		Subsystem: "floor",
		Name:      "hold_duration_seconds",
		Help:      "Duration the floor was held before release",
		Buckets:   []float64{1, 5, 10, 30, 60, 90, 120, 150},
	})

	// PushDispatches tracks wake-up push fan-outs by kind and outcome
	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "push",
		Name:      "dispatches_total",
		Help:      "Total push fan-outs submitted to the gateway",
	}, []string{"kind", "status"})

	// CircuitBreakerState exposes breaker state per external collaborator
	// (0 = closed, 1 = open, 2 = half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "external",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per external dependency",
	}, []string{"dependency"})

	// RateLimitExceeded counts rejected connection attempts
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Connection attempts rejected by rate limiting",
	}, []string{"scope"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
