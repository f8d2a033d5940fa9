package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GRPCMetrics contains Prometheus metrics for the query gRPC service.
type GRPCMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewGRPCMetrics creates and registers gRPC service metrics.
func NewGRPCMetrics(reg prometheus.Registerer, namespace string) *GRPCMetrics {
	m := &GRPCMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration)

	return m
}
