package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	DroppedTotal      *prometheus.CounterVec
	Rooms             prometheus.Gauge
	EvictionsTotal    *prometheus.CounterVec
	PersistenceTotal  *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	StorageUp         prometheus.Gauge
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "collabrelay_connections_total",
			Help: "Total connections accepted",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "collabrelay_active_connections",
			Help: "Current active connections",
		}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collabrelay_events_total",
			Help: "Inbound events handled, by event name",
		}, []string{"event"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collabrelay_dropped_events_total",
			Help: "Inbound events dropped without relaying",
		}, []string{"reason"}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "collabrelay_rooms",
			Help: "Workspace rooms held in memory",
		}),
		EvictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collabrelay_evictions_total",
			Help: "Forced disconnects and room evictions",
		}, []string{"kind"}),
		PersistenceTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collabrelay_persistence_ops_total",
			Help: "Persistence gateway operations",
		}, []string{"op", "result"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collabrelay_errors_total",
			Help: "Total errors",
		}, []string{"type"}),
		StorageUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "collabrelay_storage_up",
			Help: "Whether the persistence backend answered the last health ping (1 = yes, 0 = no)",
		}),
	}
}
