// Package generator produces synthetic box, sensor and measurement data for
// the firmware simulator and for tests.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// TimestampLayout is the zone-less layout emitted by box firmware clocks.
const TimestampLayout = "2006-01-02T15:04:05"

// Sensor describes a simulated sensor registration.
type Sensor struct {
	ID       string `json:"id" fake:"{regex:28[0-9a-f]{14}}"`
	Name     string `json:"name" fake:"{color} shelf"`
	Type     string `json:"type" fake:"{randomstring:[ds18b20,dht22,sht31]}"`
	Location string `json:"location" fake:"{randomstring:[top,middle,bottom,door,intake]}"`
}

// Reading is one measurement payload in the shape box firmware publishes.
type Reading struct {
	SensorID    string   `json:"sensor_id"`
	Timestamp   string   `json:"timestamp"`
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
}

// NewSensor returns a randomly populated sensor registration.
func NewSensor() *Sensor {
	var s Sensor
	if err := gofakeit.Struct(&s); err != nil {
		return nil
	}
	return &s
}

// NewBoxMetadata returns free-form box metadata as accepted by POST /api/box.
func NewBoxMetadata() map[string]any {
	return map[string]any{
		"name":     gofakeit.City() + " greenhouse",
		"location": gofakeit.Street(),
		"owner":    gofakeit.Name(),
	}
}

// SensorGenerator produces a plausible temperature/humidity series for one sensor.
type SensorGenerator struct {
	sensorID         string
	baselineTemp     float64
	baselineHumidity float64
	noise            float64
	withHumidity     bool
}

// NewSensorGenerator creates a generator with randomized baselines.
// Note: Uses math/rand which is acceptable for simulation data.
func NewSensorGenerator(sensorID string, withHumidity bool) *SensorGenerator {
	return &SensorGenerator{
		sensorID:         sensorID,
		baselineTemp:     65.0 + rand.Float64()*15, // #nosec G404 - 65-80°F
		baselineHumidity: 45.0 + rand.Float64()*20, // #nosec G404 - 45-65%
		noise:            rand.Float64() * 2,       // #nosec G404
		withHumidity:     withHumidity,
	}
}

// Temperature returns a Fahrenheit reading following a daily cycle peaking mid-afternoon.
func (g *SensorGenerator) Temperature(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60

	dailyCycle := 8 * math.Sin((hour-9)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * g.noise // #nosec G404

	return round(g.baselineTemp+dailyCycle+noise, 2)
}

// Humidity returns relative humidity inversely correlated with temperature, clamped to 10-95%.
func (g *SensorGenerator) Humidity(temperature float64) float64 {
	tempEffect := -(temperature - g.baselineTemp) * 1.2
	noise := (rand.Float64() - 0.5) * g.noise // #nosec G404

	return round(math.Max(10, math.Min(95, g.baselineHumidity+tempEffect+noise)), 2)
}

// Reading produces the payload for time t.
func (g *SensorGenerator) Reading(t time.Time) *Reading {
	temperature := g.Temperature(t)

	r := &Reading{
		SensorID:    g.sensorID,
		Timestamp:   t.UTC().Format(TimestampLayout),
		Temperature: temperature,
	}
	if g.withHumidity {
		h := g.Humidity(temperature)
		r.Humidity = &h
	}
	return r
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
