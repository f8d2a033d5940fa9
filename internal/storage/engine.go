package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RegistryID is the reserved identifier resolving to the registry store.
const RegistryID = "common"

// engine hides how box stores are laid out on the underlying database.
type engine interface {
	// openRegistry opens the registry handle.
	openRegistry(ctx context.Context) (*gorm.DB, error)
	// locate returns the store location of a box id.
	locate(boxID string) (string, error)
	// exists reports whether the physical container of a location is present.
	exists(ctx context.Context, location string) (bool, error)
	// open returns a handle to a prepared location. No schema is created.
	open(ctx context.Context, location string) (*gorm.DB, error)
	// prepare creates the physical container for a location (file, schema).
	prepare(ctx context.Context, location string) error
	// release closes a handle returned by open.
	release(db *gorm.DB) error
	// destroy removes the physical container of a location.
	destroy(ctx context.Context, location string) error
	close() error
}

func gormConfig(prefix string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Use slog instead of GORM's logger
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	}
}

func closeGorm(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
