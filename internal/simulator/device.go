// Package simulator stands in for box firmware: it publishes synthetic
// measurements on the message bus the way real boxes do.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"procodus.dev/hotbox/pkg/generator"
	"procodus.dev/hotbox/pkg/metrics"
	"procodus.dev/hotbox/pkg/mq"
	"procodus.dev/hotbox/pkg/topic"
)

// Device simulates one box and its sensors.
type Device struct {
	client     mq.ClientInterface
	metrics    *metrics.SimulatorMetrics
	boxID      string
	routingKey string
	sensors    []*generator.SensorGenerator
}

// NewDevice creates a simulated box publishing through client.
func NewDevice(client mq.ClientInterface, boxID string, sensorIDs []string, withHumidity bool) *Device {
	sensors := make([]*generator.SensorGenerator, 0, len(sensorIDs))
	for _, id := range sensorIDs {
		sensors = append(sensors, generator.NewSensorGenerator(id, withHumidity))
	}
	return &Device{
		client:     client,
		boxID:      boxID,
		routingKey: topic.Measurement(boxID).RoutingKey(),
		sensors:    sensors,
	}
}

// SetMetrics sets the metrics collector for this device.
func (d *Device) SetMetrics(m *metrics.SimulatorMetrics) {
	d.metrics = m
}

// BoxID returns the simulated box id.
func (d *Device) BoxID() string {
	return d.boxID
}

// Publish sends one reading per sensor taken at now.
func (d *Device) Publish(ctx context.Context, now time.Time) error {
	for _, sensor := range d.sensors {
		if err := d.publish(ctx, sensor.Reading(now)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) publish(ctx context.Context, reading *generator.Reading) error {
	body, err := json.Marshal(reading)
	if err != nil {
		d.count("marshal_error")
		return fmt.Errorf("marshal reading: %w", err)
	}

	if err := d.client.Publish(ctx, d.routingKey, body); err != nil {
		d.count("publish_error")
		return fmt.Errorf("publish reading for sensor %s: %w", reading.SensorID, err)
	}

	d.count("success")
	return nil
}

func (d *Device) count(status string) {
	if d.metrics != nil {
		d.metrics.MessagesPublished.WithLabelValues(status).Inc()
	}
}
