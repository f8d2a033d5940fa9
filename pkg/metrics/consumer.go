package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics contains Prometheus metrics for the bus consumer.
type ConsumerMetrics struct {
	MessagesTotal      *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	ActiveConsumers    prometheus.Gauge
}

// NewConsumerMetrics creates and registers bus consumer metrics.
func NewConsumerMetrics(reg prometheus.Registerer, namespace string) *ConsumerMetrics {
	m := &ConsumerMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Total number of bus messages consumed",
			},
			[]string{"outcome"}, // outcome: stored, ignored, malformed, rejected
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "processing_duration_seconds",
				Help:      "Duration of bus message processing",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "active_consumers",
				Help:      "Number of active message consumers",
			},
		),
	}

	reg.MustRegister(m.MessagesTotal, m.ProcessingDuration, m.ActiveConsumers)

	return m
}
