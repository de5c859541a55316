// Package metrics declares the Prometheus instruments for the relay and
// control planes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for the relay path.
const (
	DropMalformed     = "malformed"
	DropUnknownSender = "unknown_sender"
	DropNoRoom        = "no_room"
)

type Metrics struct {
	// UDP relay path
	DatagramsReceived  prometheus.Counter
	DatagramsForwarded prometheus.Counter
	DatagramsDropped   *prometheus.CounterVec
	PingEchoes         prometheus.Counter
	BytesRelayed       prometheus.Counter

	// Control plane
	ControlMessages       *prometheus.CounterVec
	RosterPushes          prometheus.Counter
	SlowClientDisconnects prometheus.Counter
	Evictions             prometheus.Counter

	// Gauges kept current by the orchestrator
	ActiveSessions prometheus.Gauge
	ActiveRooms    prometheus.Gauge
}

// New registers all instruments against reg. Tests pass a fresh
// prometheus.NewRegistry so parallel packages never collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_datagrams_received_total",
			Help: "UDP datagrams received on the media port",
		}),
		DatagramsForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_datagrams_forwarded_total",
			Help: "Datagram copies forwarded to room members",
		}),
		DatagramsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_datagrams_dropped_total",
			Help: "Datagrams dropped before forwarding, by reason",
		}, []string{"reason"}),
		PingEchoes: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_ping_echoes_total",
			Help: "Ping datagrams echoed back to their source",
		}),
		BytesRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_bytes_relayed_total",
			Help: "Payload bytes relayed to room members",
		}),
		ControlMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_control_messages_total",
			Help: "Control messages handled, by type",
		}, []string{"type"}),
		RosterPushes: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_roster_pushes_total",
			Help: "Roster updates pushed to room members",
		}),
		SlowClientDisconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_slow_client_disconnects_total",
			Help: "Clients disconnected because their control send queue overflowed",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_evictions_total",
			Help: "Sessions evicted by the liveness sweeper",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_sessions",
			Help: "Currently registered sessions",
		}),
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_rooms",
			Help: "Rooms with at least one member",
		}),
	}
}
