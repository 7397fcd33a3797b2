package hub

import (
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results recorded by Metrics.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// Metrics holds the hub collectors. A nil *Metrics records nothing.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Broadcasts        *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	Evictions         prometheus.Counter
	ReplayQueueSize   prometheus.Gauge
}

// NewMetrics creates the hub collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of registered client connections",
		}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Broadcasts started by message type",
		}, []string{"type"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by result",
		}, []string{"result"}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Connections evicted by the heartbeat monitor",
		}),
		ReplayQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "hub",
			Name:      "replay_queue_size",
			Help:      "Entries in the replay buffer",
		}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}

func (m *Metrics) observeReport(report domain.DeliveryReport) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(string(report.Type)).Inc()
	m.Deliveries.WithLabelValues(ResultDelivered).Add(float64(report.Delivered))
	m.Deliveries.WithLabelValues(ResultFailed).Add(float64(report.Failed))
}

func (m *Metrics) evicted() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *Metrics) setQueueSize(n int) {
	if m == nil {
		return
	}
	m.ReplayQueueSize.Set(float64(n))
}
