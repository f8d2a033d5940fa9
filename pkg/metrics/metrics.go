// Package metrics provides Prometheus metrics collection for all services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric family exported by hotbox.
const Namespace = "hotbox"

// Registry is the process-wide Prometheus registry used by the serve command.
var Registry = NewRegistry()

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
// Tests use a fresh registry per server so repeated registration does not panic.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Set bundles every metric family of the backend process.
type Set struct {
	API      *APIMetrics
	Ingest   *IngestMetrics
	Store    *StoreMetrics
	Consumer *ConsumerMetrics
	GRPC     *GRPCMetrics
	MQ       *MQMetrics
}

// NewSet creates and registers all backend metric families on reg.
func NewSet(reg prometheus.Registerer) *Set {
	return &Set{
		API:      NewAPIMetrics(reg, Namespace),
		Ingest:   NewIngestMetrics(reg, Namespace),
		Store:    NewStoreMetrics(reg, Namespace),
		Consumer: NewConsumerMetrics(reg, Namespace),
		GRPC:     NewGRPCMetrics(reg, Namespace),
		MQ:       NewMQMetrics(reg, Namespace),
	}
}
