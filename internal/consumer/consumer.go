// Package consumer ingests measurements published by boxes on the message bus.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/hotbox/internal/ingest"
	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/metrics"
	"procodus.dev/hotbox/pkg/mq"
	"procodus.dev/hotbox/pkg/topic"
)

// ErrMalformedMessage reports a payload that is not a JSON measurement object.
var ErrMalformedMessage = errors.New("malformed message")

// Outcome classifies how a delivery was handled.
type Outcome string

// Delivery outcomes.
const (
	OutcomeStored    Outcome = "stored"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed"
	OutcomeRejected  Outcome = "rejected"
)

// Ingester appends measurements. *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, boxID string, in ingest.Input) (*storage.MeasurementRecord, error)
}

// Config holds the configuration for the Consumer.
type Config struct {
	Logger  *slog.Logger
	Client  mq.ClientInterface
	Ingest  Ingester
	Metrics *metrics.ConsumerMetrics

	// ReadyTimeout bounds how long Start waits for the bus connection.
	ReadyTimeout time.Duration
}

// Consumer reads measurement deliveries and forwards them to the ingestion service.
// Every delivery is acknowledged: failures are logged and dropped.
type Consumer struct {
	logger       *slog.Logger
	client       mq.ClientInterface
	ingest       Ingester
	metrics      *metrics.ConsumerMetrics
	readyTimeout time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
	stopOnce     sync.Once
}

// New creates a new Consumer instance.
func New(cfg *Config) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Ingest == nil {
		return nil, errors.New("ingest service cannot be nil")
	}

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}

	return &Consumer{
		logger:       cfg.Logger.With("component", "consumer"),
		client:       cfg.Client,
		ingest:       cfg.Ingest,
		metrics:      cfg.Metrics,
		readyTimeout: readyTimeout,
		done:         make(chan struct{}),
	}, nil
}

// Start waits for the bus and begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	readyCtx, cancelReady := context.WithTimeout(ctx, c.readyTimeout)
	defer cancelReady()
	if err := c.client.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("message bus not ready: %w", err)
	}

	deliveries, err := c.client.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
	}

	c.logger.Info("consumer started, waiting for messages")
	go c.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Dec()
		}
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}

			c.Handle(ctx, delivery)
		}
	}
}

// Handle processes one delivery and acknowledges it.
func (c *Consumer) Handle(ctx context.Context, delivery amqp.Delivery) Outcome {
	start := time.Now()
	outcome := c.handle(ctx, delivery)

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "routing_key", delivery.RoutingKey, "error", err)
	}

	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(string(outcome)).Inc()
		c.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}
	return outcome
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) Outcome {
	t, err := topic.Parse(delivery.RoutingKey)
	if err != nil {
		c.logger.Warn("dropping message with malformed topic", "routing_key", delivery.RoutingKey, "error", err)
		return OutcomeMalformed
	}

	if !t.IsMeasurement() {
		c.logger.Debug("ignoring message", "box_id", t.BoxID, "type", t.Type)
		return OutcomeIgnored
	}

	in, err := decode(delivery.Body)
	if err != nil {
		c.logger.Warn("dropping malformed measurement", "box_id", t.BoxID, "error", err)
		return OutcomeMalformed
	}
	in.Source = ingest.SourceBus

	record, err := c.ingest.Ingest(ctx, t.BoxID, in)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, storage.ErrNotFound) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "dropping measurement",
			"box_id", t.BoxID,
			"sensor_id", in.SensorID,
			"error", err,
		)
		return OutcomeRejected
	}

	c.logger.Debug("measurement stored",
		"box_id", t.BoxID,
		"sensor_id", record.SensorID,
		"measurement_id", record.ID,
	)
	return OutcomeStored
}

func decode(body []byte) (ingest.Input, error) {
	var in ingest.Input
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return in, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMessage)
	}
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return in, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return in, nil
}

// Stop stops consuming and closes the bus client.
func (c *Consumer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info("stopping consumer")

		if c.cancel != nil {
			c.cancel()
		}

		if cerr := c.client.Close(); cerr != nil {
			err = fmt.Errorf("failed to close mq client: %w", cerr)
		}

		if c.cancel != nil {
			<-c.done
		}

		c.logger.Info("consumer stopped")
	})
	return err
}
