package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresConfig holds the PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// DSN renders the libpq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

var schemaName = regexp.MustCompile(`^box_[A-Za-z0-9_]+$`)

// postgresEngine shares one pool; the registry lives in the default schema and
// each box gets its own schema named box_<id>.
type postgresEngine struct {
	cfg  PostgresConfig
	root *gorm.DB
}

func newPostgresEngine(cfg PostgresConfig) (*postgresEngine, error) {
	if cfg.Host == "" {
		return nil, errors.New("postgres host cannot be empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("postgres database name cannot be empty")
	}
	return &postgresEngine{cfg: cfg}, nil
}

func (e *postgresEngine) openRegistry(ctx context.Context) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(e.cfg.DSN()), gormConfig(""))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	e.root = db
	return db, nil
}

func (e *postgresEngine) locate(boxID string) (string, error) {
	if !safeID.MatchString(boxID) || boxID == RegistryID {
		return "", Invalid("id", "is not a valid box identifier")
	}
	return "box_" + boxID, nil
}

func (e *postgresEngine) pool() (gorm.ConnPool, error) {
	if e.root == nil {
		return nil, errors.New("registry not open")
	}
	sqlDB, err := e.root.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB, nil
}

func (e *postgresEngine) exists(ctx context.Context, location string) (bool, error) {
	if !schemaName.MatchString(location) {
		return false, Invalid("location", "is not a box schema")
	}
	var n int64
	err := e.root.WithContext(ctx).
		Raw(`SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?`, location).
		Scan(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *postgresEngine) open(_ context.Context, location string) (*gorm.DB, error) {
	if !schemaName.MatchString(location) {
		return nil, Invalid("location", "is not a box schema")
	}
	conn, err := e.pool()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), gormConfig(location+"."))
	if err != nil {
		return nil, fmt.Errorf("failed to open schema %s: %w", location, err)
	}
	return db, nil
}

func (e *postgresEngine) prepare(ctx context.Context, location string) error {
	if !schemaName.MatchString(location) {
		return Invalid("location", "is not a box schema")
	}
	return e.root.WithContext(ctx).Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, location)).Error
}

// release is a no-op: box handles share the registry pool.
func (e *postgresEngine) release(*gorm.DB) error {
	return nil
}

func (e *postgresEngine) destroy(ctx context.Context, location string) error {
	if !schemaName.MatchString(location) {
		return Invalid("location", "is not a box schema")
	}
	return e.root.WithContext(ctx).Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, location)).Error
}

func (e *postgresEngine) close() error {
	return closeGorm(e.root)
}
