package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	Connections prometheus.Gauge
	Events      *prometheus.CounterVec
	Deliveries  prometheus.Counter
	Errors      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer to expose them on /metrics, or a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Current number of live gateway connections.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_total",
			Help: "Inbound gateway events by name.",
		}, []string{"event"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_deliveries_total",
			Help: "Frames handed to room members by broadcasts.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Error events sent to clients by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Events, m.Deliveries, m.Errors)
	}
	return m
}

func (m *Metrics) connected() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) event(name string) {
	if m != nil {
		m.Events.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) broadcast(n int) {
	if m != nil {
		m.Deliveries.Add(float64(n))
	}
}

func (m *Metrics) failure(reason string) {
	if m != nil {
		m.Errors.WithLabelValues(reason).Inc()
	}
}
