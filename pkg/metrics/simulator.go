package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the firmware simulator.
type SimulatorMetrics struct {
	MessagesPublished *prometheus.CounterVec
	ActiveSensors     prometheus.Gauge
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(reg prometheus.Registerer, namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "messages_published_total",
				Help:      "Total number of simulated measurements published",
			},
			[]string{"status"}, // status: success, marshal_error, publish_error
		),
		ActiveSensors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "active_sensors",
				Help:      "Number of simulated sensors currently publishing",
			},
		),
	}

	reg.MustRegister(m.MessagesPublished, m.ActiveSensors)

	return m
}
