package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics tracks the store router's handle cache and box lifecycle.
type StoreMetrics struct {
	OpenHandles    prometheus.Gauge
	HandleOpens    prometheus.Counter
	BoxLifecycle   *prometheus.CounterVec
	OperationTotal *prometheus.CounterVec
}

// NewStoreMetrics creates and registers store metrics.
func NewStoreMetrics(reg prometheus.Registerer, namespace string) *StoreMetrics {
	m := &StoreMetrics{
		OpenHandles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "open_handles",
				Help:      "Number of box store handles currently cached",
			},
		),
		HandleOpens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "handle_opens_total",
				Help:      "Total number of box store handles opened",
			},
		),
		BoxLifecycle: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "box_lifecycle_total",
				Help:      "Box store initializations, disposals and rollbacks",
			},
			[]string{"event"}, // event: initialized, disposed, rolled_back
		),
		OperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
	}

	reg.MustRegister(m.OpenHandles, m.HandleOpens, m.BoxLifecycle, m.OperationTotal)

	return m
}
