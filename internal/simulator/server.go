package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/hotbox/pkg/metrics"
	"procodus.dev/hotbox/pkg/mq"
)

// Box names a simulated box and the sensors it reports for.
type Box struct {
	ID      string
	Sensors []string
}

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// NewClient creates the bus client a simulated box publishes through
	NewClient func(boxID string) mq.ClientInterface
	// Boxes lists the boxes to simulate
	Boxes []Box
	// Interval is the time between readings
	Interval time.Duration
	// Humidity adds a humidity value to every reading
	Humidity bool
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
	// Now overrides the clock; defaults to time.Now
	Now func() time.Time
}

// Server runs one publishing loop per simulated box.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	devices []*Device
	clients []mq.ClientInterface
	metrics *metrics.SimulatorMetrics
	now     func() time.Time
	wg      sync.WaitGroup
}

var (
	errNoBoxes         = errors.New("at least one box is required")
	errNoSensors       = errors.New("every box needs at least one sensor")
	errInvalidInterval = errors.New("interval must be greater than 0")
	errLoggerRequired  = errors.New("logger is required")
	errClientRequired  = errors.New("client factory is required")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.NewClient == nil {
		return nil, errClientRequired
	}

	if len(cfg.Boxes) == 0 {
		return nil, errNoBoxes
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		logger:  cfg.Logger.With("component", "simulator"),
		config:  cfg,
		metrics: cfg.Metrics,
		now:     now,
	}

	sensors := 0
	for _, box := range cfg.Boxes {
		if box.ID == "" || len(box.Sensors) == 0 {
			return nil, errNoSensors
		}

		client := cfg.NewClient(box.ID)
		device := NewDevice(client, box.ID, box.Sensors, cfg.Humidity)
		if cfg.Metrics != nil {
			device.SetMetrics(cfg.Metrics)
		}

		s.clients = append(s.clients, client)
		s.devices = append(s.devices, device)
		sensors += len(box.Sensors)

		s.logger.Info("created simulated box", "box_id", box.ID, "sensors", len(box.Sensors))
	}

	if s.metrics != nil {
		s.metrics.ActiveSensors.Set(float64(sensors))
	}

	return s, nil
}

// Run starts every device loop and blocks until ctx is canceled or a
// shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for _, device := range s.devices {
		s.wg.Add(1)
		go s.runDevice(ctx, device)
	}

	s.logger.Info("simulator started",
		"boxes", len(s.devices),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.wg.Wait()
	s.closeClients()

	if s.metrics != nil {
		s.metrics.ActiveSensors.Set(0)
	}
	s.logger.Info("simulator stopped")
	return nil
}

func (s *Server) runDevice(ctx context.Context, device *Device) {
	defer s.wg.Done()

	log := s.logger.With("box_id", device.BoxID())

	if err := device.client.WaitReady(ctx); err != nil {
		log.Error("message bus not ready", "error", err)
		return
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Info("device started")
	for {
		select {
		case <-ctx.Done():
			log.Info("device shutting down")
			return

		case <-ticker.C:
			if err := device.Publish(ctx, s.now()); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("failed to publish readings", "error", err)
				continue
			}
			log.Debug("readings published")
		}
	}
}

// closeClients closes all MQ clients gracefully.
func (s *Server) closeClients() {
	var wg sync.WaitGroup
	for i, client := range s.clients {
		wg.Add(1)
		go func(boxID string, c mq.ClientInterface) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				s.logger.Error("failed to close MQ client", "box_id", boxID, "error", err)
				return
			}
			s.logger.Debug("MQ client closed", "box_id", boxID)
		}(s.devices[i].BoxID(), client)
	}
	wg.Wait()
}
