package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"procodus.dev/hotbox/pkg/metrics"
)

// RouterConfig holds the store router configuration.
type RouterConfig struct {
	Logger   *slog.Logger
	Metrics  *metrics.StoreMetrics
	Driver   string
	Dir      string
	Postgres PostgresConfig
	NodeID   int64
}

// Router maps box store locations onto cached handles and owns the registry.
type Router struct {
	engine   engine
	logger   *slog.Logger
	metrics  *metrics.StoreMetrics
	node     *snowflake.Node
	registry *Registry
	handles  map[string]*BoxStore
	group    singleflight.Group
	mu       sync.Mutex
	closed   bool

	// lifecycle orders physical opens (read side) against Dispose (write side).
	lifecycle sync.RWMutex
}

// NewRouter opens the registry and prepares the router.
func NewRouter(cfg *RouterConfig) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	var (
		eng engine
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		eng, err = newSQLiteEngine(cfg.Dir)
	case DriverPostgres:
		eng, err = newPostgresEngine(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	log := cfg.Logger.With("component", "storage")

	ctx := context.Background()
	db, err := eng.openRegistry(ctx)
	if err != nil {
		return nil, err
	}

	log.Info("running registry migrations", "driver", cfg.Driver)
	if err := db.WithContext(ctx).AutoMigrate(&Box{}); err != nil {
		_ = eng.close()
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}

	r := &Router{
		engine:  eng,
		logger:  log,
		metrics: cfg.Metrics,
		node:    node,
		handles: make(map[string]*BoxStore),
	}
	r.registry = &Registry{db: db, router: r, logger: log}

	return r, nil
}

// Registry returns the registry store.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Handle returns the raw database handle of a location. RegistryID resolves
// to the registry.
func (r *Router) Handle(ctx context.Context, location string) (*gorm.DB, error) {
	if location == RegistryID {
		return r.registry.db.WithContext(ctx), nil
	}
	store, err := r.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	return store.db.WithContext(ctx), nil
}

// Open returns the cached handle for a box store location, opening it on
// first use. It never creates a store: a location that was never initialized
// or has been disposed yields ErrBoxNotFound.
func (r *Router) Open(ctx context.Context, location string) (*BoxStore, error) {
	if location == "" || location == RegistryID {
		return nil, Invalid("location", "is not a box store")
	}

	if store, err := r.cached(location); store != nil || err != nil {
		return store, err
	}

	// The shared open outlives any single caller's cancellation.
	openCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(location, func() (interface{}, error) {
		return r.open(openCtx, location)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BoxStore), nil
}

func (r *Router) open(ctx context.Context, location string) (*BoxStore, error) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()

	if store, err := r.cached(location); store != nil || err != nil {
		return store, err
	}

	ok, err := r.engine.exists(ctx, location)
	if err != nil {
		return nil, storageError("open box store", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no store at %s", ErrBoxNotFound, location)
	}

	db, err := r.engine.open(ctx, location)
	if err != nil {
		return nil, storageError("open box store", err)
	}
	store := newBoxStore(db, location, r.nextID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = r.engine.release(db)
		return nil, ErrClosed
	}
	r.handles[location] = store
	n := len(r.handles)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.HandleOpens.Inc()
		r.metrics.OpenHandles.Set(float64(n))
	}
	r.logger.Debug("opened box store", "location", location)
	return store, nil
}

func (r *Router) cached(location string) (*BoxStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.handles[location], nil
}

// Initialize allocates the dedicated store of a box and creates its schema.
func (r *Router) Initialize(ctx context.Context, boxID string) (string, error) {
	location, err := r.engine.locate(boxID)
	if err != nil {
		return "", err
	}

	if err := r.engine.prepare(ctx, location); err != nil {
		return "", storageError("prepare box store", err)
	}

	store, err := r.Open(ctx, location)
	if err != nil {
		_ = r.engine.destroy(ctx, location)
		return "", err
	}

	if err := store.Migrate(ctx); err != nil {
		if derr := r.Dispose(ctx, location); derr != nil {
			r.logger.Error("failed to dispose half-initialized box store", "location", location, "error", derr)
		}
		return "", err
	}

	if r.metrics != nil {
		r.metrics.BoxLifecycle.WithLabelValues("initialized").Inc()
	}
	r.logger.Info("initialized box store", "box_id", boxID, "location", location)
	return location, nil
}

// Dispose evicts the cached handle of a location and destroys the store.
func (r *Router) Dispose(ctx context.Context, location string) error {
	if location == "" || location == RegistryID {
		return Invalid("location", "is not a box store")
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	store := r.handles[location]
	delete(r.handles, location)
	n := len(r.handles)
	r.mu.Unlock()
	r.group.Forget(location)

	if store != nil {
		if err := r.engine.release(store.db); err != nil {
			r.logger.Warn("failed to close box store", "location", location, "error", err)
		}
	}

	if err := r.engine.destroy(ctx, location); err != nil {
		return storageError("dispose box store", err)
	}

	if r.metrics != nil {
		r.metrics.OpenHandles.Set(float64(n))
		r.metrics.BoxLifecycle.WithLabelValues("disposed").Inc()
	}
	r.logger.Info("disposed box store", "location", location)
	return nil
}

// Close releases every cached handle and the registry.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*BoxStore)
	r.mu.Unlock()

	var errs []error
	for location, store := range handles {
		if err := r.engine.release(store.db); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", location, err))
		}
	}
	if err := r.engine.close(); err != nil {
		errs = append(errs, fmt.Errorf("close registry: %w", err))
	}

	if r.metrics != nil {
		r.metrics.OpenHandles.Set(0)
	}
	r.logger.Info("store router closed", "handles", len(handles))
	return errors.Join(errs...)
}

// Ping checks that the registry database is reachable.
func (r *Router) Ping(ctx context.Context) error {
	db, err := r.Handle(ctx, RegistryID)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return storageError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

func (r *Router) nextID() string {
	return r.node.Generate().String()
}

func (r *Router) observe(operation string, err error) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.OperationTotal.WithLabelValues(operation, status).Inc()
}
