package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// sqliteEngine stores the registry and every box in its own file under dir.
type sqliteEngine struct {
	registry *gorm.DB
	dir      string
}

func newSQLiteEngine(dir string) (*sqliteEngine, error) {
	if dir == "" {
		return nil, errors.New("sqlite storage directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &sqliteEngine{dir: dir}, nil
}

func (e *sqliteEngine) dsn(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_time_format=sqlite"
}

func (e *sqliteEngine) openFile(ctx context.Context, path string) (*gorm.DB, error) {
	sqlDB, err := sql.Open("sqlite", e.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection per file avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), gormConfig(""))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (e *sqliteEngine) openRegistry(ctx context.Context) (*gorm.DB, error) {
	db, err := e.openFile(ctx, filepath.Join(e.dir, RegistryID+".sqlite"))
	if err != nil {
		return nil, err
	}
	e.registry = db
	return db, nil
}

func (e *sqliteEngine) locate(boxID string) (string, error) {
	if !safeID.MatchString(boxID) || boxID == RegistryID {
		return "", Invalid("id", "is not a valid box identifier")
	}
	return filepath.Join(e.dir, boxID+".sqlite"), nil
}

func (e *sqliteEngine) exists(_ context.Context, location string) (bool, error) {
	info, err := os.Stat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (e *sqliteEngine) open(ctx context.Context, location string) (*gorm.DB, error) {
	return e.openFile(ctx, location)
}

// prepare creates an empty database file; only prepared files are ever opened.
func (e *sqliteEngine) prepare(_ context.Context, location string) error {
	f, err := os.OpenFile(location, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", location, err)
	}
	return f.Close()
}

func (e *sqliteEngine) release(db *gorm.DB) error {
	return closeGorm(db)
}

func (e *sqliteEngine) destroy(_ context.Context, location string) error {
	for _, path := range []string{location, location + "-wal", location + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (e *sqliteEngine) close() error {
	return closeGorm(e.registry)
}
