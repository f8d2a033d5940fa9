package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics tracks measurement ingestion across the HTTP and bus paths.
type IngestMetrics struct {
	MeasurementsTotal *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec
}

// NewIngestMetrics creates and registers ingestion metrics.
func NewIngestMetrics(reg prometheus.Registerer, namespace string) *IngestMetrics {
	m := &IngestMetrics{
		MeasurementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "measurements_total",
				Help:      "Total number of measurement ingestion attempts",
			},
			[]string{"source", "result"}, // result: stored, invalid, box_not_found, sensor_not_found, error
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Duration of measurement ingestion",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(m.MeasurementsTotal, m.IngestDuration)

	return m
}
