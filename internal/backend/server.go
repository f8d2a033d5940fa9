// Package backend wires the stores, the ingestion service and the HTTP, gRPC
// and bus adapters into one process.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"procodus.dev/hotbox/internal/api"
	"procodus.dev/hotbox/internal/consumer"
	"procodus.dev/hotbox/internal/ingest"
	"procodus.dev/hotbox/internal/query"
	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/metrics"
	"procodus.dev/hotbox/pkg/mq"
	"procodus.dev/hotbox/pkg/topic"
)

// BusConfig configures the message bus ingestion path.
type BusConfig struct {
	URL        string
	Exchange   string
	Queue      string
	BindingKey string
	Enabled    bool
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Storage configuration; Logger and Metrics are filled in by the server.
	Storage storage.RouterConfig

	// HTTP server configuration
	HTTPPort    int
	CORSOrigins []string

	// gRPC configuration; 0 disables the query API.
	GRPCPort int

	Bus BusConfig

	// Metrics registry; defaults to metrics.Registry.
	Registry *prometheus.Registry

	// NewBusClient overrides how the bus client is created.
	NewBusClient func(cfg mq.Config, logger *slog.Logger) mq.ClientInterface
}

// Server represents the backend process.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	registry   *prometheus.Registry
	router     *storage.Router
	httpServer *http.Server
	grpcServer *grpc.Server
	consumer   *consumer.Consumer
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.GRPCPort < 0 {
		return nil, errors.New("gRPC port cannot be negative")
	}

	switch cfg.Storage.Driver {
	case storage.DriverSQLite, "":
		if cfg.Storage.Dir == "" {
			return nil, errors.New("storage directory cannot be empty")
		}
	case storage.DriverPostgres:
		if cfg.Storage.Postgres.Host == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.Storage.Postgres.Port <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.Storage.Postgres.User == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.Storage.Postgres.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Bus.Enabled {
		if cfg.Bus.URL == "" {
			return nil, errors.New("rabbitmq URL cannot be empty")
		}
		if cfg.Bus.Queue == "" {
			return nil, errors.New("queue name cannot be empty")
		}
	}

	reg := cfg.Registry
	if reg == nil {
		reg = metrics.Registry
	}

	return &Server{
		logger:   cfg.Logger,
		config:   cfg,
		registry: reg,
	}, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	m := metrics.NewSet(s.registry)

	// Stores
	storeCfg := s.config.Storage
	storeCfg.Logger = s.logger
	storeCfg.Metrics = m.Store
	router, err := storage.NewRouter(&storeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	s.router = router
	s.logger.Info("storage initialized", "driver", storeCfg.Driver)

	ingestSvc, err := ingest.NewService(&ingest.Config{
		Logger:  s.logger,
		Boxes:   router.Registry(),
		Metrics: m.Ingest,
	})
	if err != nil {
		return s.abort(fmt.Errorf("failed to initialize ingest service: %w", err))
	}

	// Bus consumer
	if s.config.Bus.Enabled {
		if err := s.startConsumer(ctx, ingestSvc, m); err != nil {
			return s.abort(err)
		}
	}

	errCh := make(chan error, 2)

	// gRPC query API
	if s.config.GRPCPort > 0 {
		if err := s.startGRPC(m, errCh); err != nil {
			return s.abort(err)
		}
	}

	// HTTP API
	apiServer, err := api.NewServer(&api.Config{
		Logger:      s.logger,
		Registry:    router.Registry(),
		Ingest:      ingestSvc,
		Health:      router,
		Metrics:     m.API,
		Gatherer:    s.registry,
		CORSOrigins: s.config.CORSOrigins,
	})
	if err != nil {
		return s.abort(fmt.Errorf("failed to initialize API: %w", err))
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	s.logger.Info("backend server started successfully")

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case runErr = <-errCh:
		s.logger.Error("server error", "error", runErr)
	}
	cancel()

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Server) startConsumer(ctx context.Context, ingestSvc *ingest.Service, m *metrics.Set) error {
	bus := s.config.Bus
	bindingKey := bus.BindingKey
	if bindingKey == "" {
		bindingKey = topic.BindingKey
	}

	mqCfg := mq.Config{
		URL:         bus.URL,
		Exchange:    bus.Exchange,
		Queue:       bus.Queue,
		BindingKeys: []string{bindingKey},
		Durable:     true,
	}
	busLogger := s.logger.With("component", "mq-client")

	var client mq.ClientInterface
	if s.config.NewBusClient != nil {
		client = s.config.NewBusClient(mqCfg, busLogger)
	} else {
		c := mq.New(mqCfg, busLogger)
		c.SetMetrics(m.MQ)
		client = c
	}

	cons, err := consumer.New(&consumer.Config{
		Logger:  s.logger,
		Client:  client,
		Ingest:  ingestSvc,
		Metrics: m.Consumer,
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	if err := cons.Start(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	s.consumer = cons

	s.logger.Info("bus consumer started",
		"exchange", bus.Exchange,
		"queue", bus.Queue,
		"binding_key", bindingKey,
	)
	return nil
}

func (s *Server) startGRPC(m *metrics.Set, errCh chan<- error) error {
	svc, err := query.NewService(s.logger, s.router.Registry())
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC service: %w", err)
	}

	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(query.UnaryInterceptor(s.logger, m.GRPC)))
	query.Register(s.grpcServer, svc)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	return nil
}

// abort shuts down whatever already started and returns err.
func (s *Server) abort(err error) error {
	if serr := s.Shutdown(); serr != nil {
		s.logger.Error("shutdown after startup failure", "error", serr)
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
		cancel()
		s.httpServer = nil
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
		s.consumer = nil
	}

	if s.router != nil {
		s.logger.Info("closing stores")
		if err := s.router.Close(); err != nil {
			s.logger.Error("failed to close stores", "error", err)
			errs = append(errs, fmt.Errorf("storage close error: %w", err))
		}
		s.router = nil
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
