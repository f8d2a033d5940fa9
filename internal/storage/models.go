// Package storage provides the box registry, the per-box sensor and
// measurement stores, and the router that maps box identifiers onto them.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Metadata is the free-form description attached to a box.
type Metadata map[string]any

// Box is a registry row.
type Box struct {
	CreatedAt    time.Time      `gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime"`
	ID           string         `gorm:"primaryKey;size:32"`
	DatabasePath string         `gorm:"column:database_path;not null"`
	Data         datatypes.JSON `gorm:"not null"`
}

// TableName specifies the table name for Box model.
func (Box) TableName() string {
	return "boxes"
}

// Metadata decodes the stored metadata blob.
func (b *Box) Metadata() (Metadata, error) {
	md := Metadata{}
	if len(b.Data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(b.Data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata of box %s: %w", b.ID, err)
	}
	return md, nil
}

// MarshalJSON spreads the metadata fields next to the registry columns.
// Registry columns win over metadata keys of the same name.
func (b Box) MarshalJSON() ([]byte, error) {
	md, err := b.Metadata()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(md)+4)
	for k, v := range md {
		out[k] = v
	}
	out["id"] = b.ID
	out["database_path"] = b.DatabasePath
	out["created_at"] = b.CreatedAt
	out["updated_at"] = b.UpdatedAt
	return json.Marshal(out)
}

// Sensor belongs to exactly one box store.
type Sensor struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	Type      *string   `json:"type"`
	Location  *string   `json:"location"`
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
}

// TableName resolves through the namer so per-box prefixes apply.
func (Sensor) TableName(namer schema.Namer) string {
	return namer.TableName("Sensor")
}

// Measurement is one append-only reading.
type Measurement struct {
	Timestamp   time.Time `gorm:"not null;index:idx_measurements_timestamp"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Humidity    *float64
	Notes       *string
	SensorID    string  `gorm:"not null;index:idx_measurements_sensor_id"`
	Temperature float64 `gorm:"not null"`
	ID          int64   `gorm:"primaryKey;autoIncrement"`
}

// TableName resolves through the namer so per-box prefixes apply.
func (Measurement) TableName(namer schema.Namer) string {
	return namer.TableName("Measurement")
}

// MeasurementRecord is a measurement joined with its sensor's name.
type MeasurementRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
	Humidity    *float64  `json:"humidity"`
	Notes       *string   `json:"notes"`
	SensorID    string    `json:"sensor_id"`
	SensorName  string    `json:"sensor_name"`
	Temperature float64   `json:"temperature"`
	ID          int64     `json:"id"`
}

// SensorInput registers a sensor. An empty ID is replaced by a generated one.
type SensorInput struct {
	Type     *string
	Location *string
	ID       string
	Name     string
}

// SensorPatch updates a sensor. Name is replaced only when non-empty.
type SensorPatch struct {
	Name     *string
	Type     *string
	Location *string
}

// MeasurementInput is a validated measurement ready to append.
type MeasurementInput struct {
	Timestamp   time.Time
	Humidity    *float64
	Notes       *string
	SensorID    string
	Temperature float64
}

// MeasurementFilter selects a page of measurements. Start and End are inclusive.
type MeasurementFilter struct {
	Start  *time.Time
	End    *time.Time
	Limit  int
	Offset int
}

// MeasurementPage is the result of a measurement query.
type MeasurementPage struct {
	Sensors      []Sensor            `json:"sensors"`
	Measurements []MeasurementRecord `json:"measurements"`
	Total        int64               `json:"total_measurements"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
}
