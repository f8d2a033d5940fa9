package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BoxStore holds the sensors and measurements of one box.
type BoxStore struct {
	db           *gorm.DB
	newID        func() string
	location     string
	sensors      string
	measurements string
}

func newBoxStore(db *gorm.DB, location string, newID func() string) *BoxStore {
	return &BoxStore{
		db:           db,
		newID:        newID,
		location:     location,
		sensors:      db.NamingStrategy.TableName("Sensor"),
		measurements: db.NamingStrategy.TableName("Measurement"),
	}
}

// Location returns the store location this handle points at.
func (s *BoxStore) Location() string {
	return s.location
}

// Migrate creates the sensor and measurement tables.
func (s *BoxStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Sensor{}, &Measurement{}); err != nil {
		return storageError("migrate box store", err)
	}
	return nil
}

// CreateSensor inserts a sensor. Re-submitting an existing id returns the
// stored record unchanged.
func (s *BoxStore) CreateSensor(ctx context.Context, in SensorInput) (*Sensor, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, Required("name")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	}

	sensor := &Sensor{ID: id, Name: name, Type: in.Type, Location: in.Location}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(sensor).Error; err != nil {
		return nil, storageError("create sensor", err)
	}
	return s.GetSensor(ctx, id)
}

// GetSensor returns the sensor or ErrSensorNotFound.
func (s *BoxStore) GetSensor(ctx context.Context, id string) (*Sensor, error) {
	var sensor Sensor
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&sensor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, id)
	}
	if err != nil {
		return nil, storageError("get sensor", err)
	}
	return &sensor, nil
}

// ListSensors returns every sensor of the box.
func (s *BoxStore) ListSensors(ctx context.Context) ([]Sensor, error) {
	sensors := []Sensor{}
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&sensors).Error; err != nil {
		return nil, storageError("list sensors", err)
	}
	return sensors, nil
}

// UpdateSensor applies a patch. An empty name keeps the current one.
func (s *BoxStore) UpdateSensor(ctx context.Context, id string, patch SensorPatch) (*Sensor, error) {
	var sensor *Sensor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Sensor
		if err := tx.Where("id = ?", id).Take(&current).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
			updates["name"] = strings.TrimSpace(*patch.Name)
		}
		if patch.Type != nil {
			updates["type"] = *patch.Type
		}
		if patch.Location != nil {
			updates["location"] = *patch.Location
		}
		if len(updates) > 0 {
			if err := tx.Model(&current).Updates(updates).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("id = ?", id).Take(&current).Error; err != nil {
			return err
		}
		sensor = &current
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, id)
	}
	if err != nil {
		return nil, storageError("update sensor", err)
	}
	return sensor, nil
}

// AppendMeasurement inserts a measurement for an existing sensor and returns
// the joined record.
func (s *BoxStore) AppendMeasurement(ctx context.Context, in MeasurementInput) (*MeasurementRecord, error) {
	var record *MeasurementRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sensor Sensor
		if err := tx.Where("id = ?", in.SensorID).Take(&sensor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrSensorNotFound, in.SensorID)
			}
			return storageError("get sensor", err)
		}

		m := &Measurement{
			SensorID:    in.SensorID,
			Timestamp:   in.Timestamp.UTC(),
			Temperature: in.Temperature,
			Humidity:    in.Humidity,
			Notes:       in.Notes,
		}
		if err := tx.Create(m).Error; err != nil {
			return storageError("append measurement", err)
		}

		record = &MeasurementRecord{
			ID:          m.ID,
			SensorID:    m.SensorID,
			SensorName:  sensor.Name,
			Timestamp:   m.Timestamp,
			Temperature: m.Temperature,
			Humidity:    m.Humidity,
			Notes:       m.Notes,
			CreatedAt:   m.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *BoxStore) joined(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("? AS m", clause.Table{Name: s.measurements}).
		Select("m.id, m.sensor_id, s.name AS sensor_name, m.timestamp, m.temperature, m.humidity, m.notes, m.created_at").
		Joins("JOIN ? AS s ON s.id = m.sensor_id", clause.Table{Name: s.sensors})
}

// GetMeasurement returns one joined measurement record.
func (s *BoxStore) GetMeasurement(ctx context.Context, id int64) (*MeasurementRecord, error) {
	var records []MeasurementRecord
	if err := s.joined(ctx).Where("m.id = ?", id).Limit(1).Scan(&records).Error; err != nil {
		return nil, storageError("get measurement", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrMeasurementNotFound, id)
	}
	return &records[0], nil
}

// QueryMeasurements returns a page of measurements, most recent first, with
// the unfiltered total and the sensor list of the box.
func (s *BoxStore) QueryMeasurements(ctx context.Context, filter MeasurementFilter) (*MeasurementPage, error) {
	filter = filter.Normalize()

	q := s.joined(ctx)
	if filter.Start != nil {
		q = q.Where("m.timestamp >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		q = q.Where("m.timestamp <= ?", filter.End.UTC())
	}

	records := []MeasurementRecord{}
	if err := q.Order("m.timestamp DESC, m.id DESC").Limit(filter.Limit).Offset(filter.Offset).Scan(&records).Error; err != nil {
		return nil, storageError("query measurements", err)
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}

	sensors, err := s.ListSensors(ctx)
	if err != nil {
		return nil, err
	}

	return &MeasurementPage{
		Sensors:      sensors,
		Measurements: records,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, nil
}

// Count returns the number of stored measurements.
func (s *BoxStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Measurement{}).Count(&total).Error; err != nil {
		return 0, storageError("count measurements", err)
	}
	return total, nil
}
