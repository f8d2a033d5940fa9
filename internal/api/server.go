// Package api exposes the box registry, sensor and measurement REST surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"procodus.dev/hotbox/internal/ingest"
	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/metrics"
)

// Ingester appends measurements. *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, boxID string, in ingest.Input) (*storage.MeasurementRecord, error)
}

// Pinger reports storage health. *storage.Router implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the configuration for the API server.
type Config struct {
	Logger   *slog.Logger
	Registry *storage.Registry
	Ingest   Ingester
	Health   Pinger
	Metrics  *metrics.APIMetrics
	Gatherer prometheus.Gatherer

	// CORSOrigins lists the origins allowed to call the API. Empty allows all.
	CORSOrigins []string
}

// Server serves the REST API.
type Server struct {
	logger   *slog.Logger
	registry *storage.Registry
	ingest   Ingester
	health   Pinger
	metrics  *metrics.APIMetrics
	gatherer prometheus.Gatherer
	origins  []string
}

// NewServer creates a new API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}

	if cfg.Ingest == nil {
		return nil, errors.New("ingest service cannot be nil")
	}

	return &Server{
		logger:   cfg.Logger.With("component", "api"),
		registry: cfg.Registry,
		ingest:   cfg.Ingest,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		origins:  cfg.CORSOrigins,
	}, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})

	var h http.Handler = s.setupRoutes()
	h = s.instrument(h)
	h = s.logRequests(h)
	h = recoverPanics(s.logger, h)
	h = requestID(h)
	return c.Handler(h)
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}

	// Boxes
	mux.HandleFunc("GET /api/box", s.handleListBoxes)
	mux.HandleFunc("POST /api/box", s.handleCreateBox)
	mux.HandleFunc("GET /api/box/{boxId}", s.handleGetBox)
	mux.HandleFunc("PUT /api/box/{boxId}", s.handleUpdateBox)
	mux.HandleFunc("DELETE /api/box/{boxId}", s.handleDeleteBox)

	// Sensors
	mux.HandleFunc("GET /api/box/{boxId}/sensors", s.handleListSensors)
	mux.HandleFunc("POST /api/box/{boxId}/sensors", s.handleCreateSensor)
	mux.HandleFunc("GET /api/box/{boxId}/sensors/{sensorId}", s.handleGetSensor)
	mux.HandleFunc("PUT /api/box/{boxId}/sensors/{sensorId}", s.handleUpdateSensor)

	// Measurements
	mux.HandleFunc("GET /api/box/{boxId}/measurements", s.handleQueryMeasurements)
	mux.HandleFunc("POST /api/box/{boxId}/measurements", s.handleCreateMeasurement)
	mux.HandleFunc("GET /api/box/{boxId}/measurements/{measurementId}", s.handleGetMeasurement)

	return mux
}
