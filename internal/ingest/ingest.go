// Package ingest validates measurements and appends them to the owning box's
// store. The HTTP and bus adapters both go through Service.Ingest.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/metrics"
)

// Source names the adapter a measurement arrived through.
type Source string

// Known sources.
const (
	SourceHTTP Source = "http"
	SourceBus  Source = "bus"
)

// Input is a measurement as received from a device or API client.
type Input struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Notes       *string  `json:"notes"`
	SensorID    string   `json:"sensor_id"`
	Timestamp   string   `json:"timestamp"`
	Source      Source   `json:"-"`
}

// Validate checks required fields and returns the storable form.
func (in Input) Validate() (storage.MeasurementInput, error) {
	sensorID := strings.TrimSpace(in.SensorID)
	if sensorID == "" {
		return storage.MeasurementInput{}, storage.Required("sensor_id")
	}
	if strings.TrimSpace(in.Timestamp) == "" {
		return storage.MeasurementInput{}, storage.Required("timestamp")
	}
	if in.Temperature == nil {
		return storage.MeasurementInput{}, storage.Required("temperature")
	}

	ts, err := storage.ParseTimestamp(in.Timestamp)
	if err != nil {
		return storage.MeasurementInput{}, storage.Invalid("timestamp", "must be an ISO 8601 date-time")
	}

	return storage.MeasurementInput{
		SensorID:    sensorID,
		Timestamp:   ts,
		Temperature: *in.Temperature,
		Humidity:    in.Humidity,
		Notes:       in.Notes,
	}, nil
}

// BoxResolver resolves a registered box to its store.
type BoxResolver interface {
	OpenBox(ctx context.Context, id string) (*storage.Box, *storage.BoxStore, error)
}

// Config holds the ingestion service configuration.
type Config struct {
	Logger  *slog.Logger
	Boxes   BoxResolver
	Metrics *metrics.IngestMetrics
}

// Service appends validated measurements.
type Service struct {
	logger  *slog.Logger
	boxes   BoxResolver
	metrics *metrics.IngestMetrics
}

// NewService creates a new ingestion service.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("ingest config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Boxes == nil {
		return nil, errors.New("box resolver cannot be nil")
	}

	return &Service{
		logger:  cfg.Logger.With("component", "ingest"),
		boxes:   cfg.Boxes,
		metrics: cfg.Metrics,
	}, nil
}

// Ingest validates in, checks that the box and sensor exist and appends the
// measurement. Validation happens before any storage access.
func (s *Service) Ingest(ctx context.Context, boxID string, in Input) (*storage.MeasurementRecord, error) {
	start := time.Now()
	source := in.Source
	if source == "" {
		source = SourceHTTP
	}

	record, err := s.ingest(ctx, boxID, in)

	if s.metrics != nil {
		s.metrics.MeasurementsTotal.WithLabelValues(string(source), result(err)).Inc()
		s.metrics.IngestDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return nil, err
	}

	s.logger.Debug("measurement stored",
		"source", source,
		"box_id", boxID,
		"sensor_id", record.SensorID,
		"measurement_id", record.ID,
	)
	return record, nil
}

func (s *Service) ingest(ctx context.Context, boxID string, in Input) (*storage.MeasurementRecord, error) {
	if strings.TrimSpace(boxID) == "" {
		return nil, storage.Required("box_id")
	}

	m, err := in.Validate()
	if err != nil {
		return nil, err
	}

	_, store, err := s.boxes.OpenBox(ctx, boxID)
	if err != nil {
		return nil, err
	}

	record, err := store.AppendMeasurement(ctx, m)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("failed to append measurement", "box_id", boxID, "sensor_id", m.SensorID, "error", err)
		}
		return nil, fmt.Errorf("box %s: %w", boxID, err)
	}
	return record, nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "stored"
	case errors.Is(err, storage.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, storage.ErrBoxNotFound):
		return "box_not_found"
	case errors.Is(err, storage.ErrSensorNotFound):
		return "sensor_not_found"
	default:
		return "error"
	}
}
