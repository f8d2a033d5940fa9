// Package mq provides a RabbitMQ topic-exchange client with automatic reconnection.
//
// Box firmware publishes over MQTT to RabbitMQ's MQTT plugin, which forwards
// onto the amq.topic exchange with "/" rewritten to ".". The client binds a
// queue to that exchange for consumers and publishes with explicit routing keys
// for producers.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/hotbox/pkg/metrics"
)

// Config describes the broker topology a Client attaches to.
type Config struct {
	// URL is the AMQP connection string.
	URL string
	// Exchange is the topic exchange to publish to and bind from.
	Exchange string
	// Queue is the queue consumed by Consume. Publish-only clients leave it empty.
	Queue string
	// BindingKeys are the routing patterns bound from Exchange to Queue.
	BindingKeys []string
	// Durable declares the queue as durable.
	Durable bool
}

// Client is a RabbitMQ client that handles connection management,
// automatic reconnection, and provides methods for publishing and consuming messages.
type Client struct {
	m               *sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	closeOnce       sync.Once
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	cfg             Config
	isReady         bool
	metrics         *metrics.MQMetrics // Optional metrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for Publish retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for Publish retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5

	// Poll interval used by WaitReady.
	readyPollInterval = 100 * time.Millisecond
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	errNoQueue            = errors.New("client has no queue configured")
)

// New creates a new client and starts connecting to the broker in the background.
func New(cfg Config, l *slog.Logger) *Client {
	client := Client{
		m:      &sync.Mutex{},
		logger: l,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
	go client.handleReconnect(cfg.URL)
	return &client
}

// SetMetrics sets the metrics collector for this client.
// This should be called before the client starts processing messages.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.metrics = m
}

// handleReconnect will wait for a connection error on
// notifyConnClose, and then continuously attempt to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)

		client.logger.Info("attempting to connect", "exchange", client.cfg.Exchange)

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			break
		}
	}
}

// connect will create a new AMQP connection.
func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	client.changeConnection(conn)
	client.logger.Info("connected")

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}

	return conn, nil
}

// handleReInit will wait for a channel error
// and then continuously attempt to re-initialize the channel.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		err := client.init(conn)
		if err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init opens a channel, verifies the exchange and declares and binds the queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if err := client.declareExchange(ch); err != nil {
		return fmt.Errorf("declare exchange %q: %w", client.cfg.Exchange, err)
	}

	if client.cfg.Queue != "" {
		if _, err := ch.QueueDeclare(
			client.cfg.Queue,
			client.cfg.Durable, // Durable
			false,              // Delete when unused
			false,              // Exclusive
			false,              // No-wait
			nil,                // Arguments
		); err != nil {
			return fmt.Errorf("declare queue %q: %w", client.cfg.Queue, err)
		}

		for _, key := range client.cfg.BindingKeys {
			if err := ch.QueueBind(client.cfg.Queue, key, client.cfg.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %q to %q: %w", client.cfg.Queue, key, err)
			}
		}
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.logger.Info("client init done",
		"queue", client.cfg.Queue,
		"binding_keys", client.cfg.BindingKeys,
	)

	return nil
}

// declareExchange declares the topic exchange. Broker-reserved amq.* exchanges
// cannot be redeclared, so only their existence is checked.
func (client *Client) declareExchange(ch *amqp.Channel) error {
	if client.cfg.Exchange == "" {
		return nil
	}
	if strings.HasPrefix(client.cfg.Exchange, "amq.") {
		return ch.ExchangeDeclarePassive(client.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	}
	return ch.ExchangeDeclare(client.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// changeConnection takes a new connection to the broker,
// and updates the close listener to reflect this.
func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

// changeChannel takes a new channel,
// and updates the channel listeners to reflect this.
func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
}

// Ready reports whether the client currently holds an initialized channel.
func (client *Client) Ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

// WaitReady blocks until the client is ready, the context ends or the client closes.
func (client *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if client.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-ticker.C:
		}
	}
}

// Publish sends data with the given routing key and waits for a broker confirmation.
// While the client is disconnected it retries with exponential backoff so the
// background reconnect has time to succeed. After maxRetryAttempts failed
// attempts it returns errMaxRetriesExceeded.
func (client *Client) Publish(ctx context.Context, routingKey string, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.cfg.Exchange))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	retryCount := 0

	wait := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-time.After(backoff):
			backoff *= backoffMultiplier
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			retryCount++
			return nil
		}
	}

	for {
		if retryCount >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded",
				"retry_count", retryCount,
				"max_attempts", maxRetryAttempts)

			if client.metrics != nil {
				client.metrics.PushFailures.WithLabelValues(client.cfg.Exchange, "max_retries_exceeded").Inc()
			}

			return errMaxRetriesExceeded
		}

		if !client.Ready() {
			client.logger.Info("not connected, waiting for reconnection",
				"backoff", backoff,
				"retry_count", retryCount)

			if err := wait(); err != nil {
				return err
			}
			continue
		}

		if err := client.UnsafePublish(ctx, routingKey, data); err != nil {
			client.logger.Error("publish failed, retrying with backoff",
				"error", err,
				"backoff", backoff,
				"retry_count", retryCount)

			if err := wait(); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			if client.metrics != nil {
				client.metrics.PushFailures.WithLabelValues(client.cfg.Exchange, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPushed.WithLabelValues(client.cfg.Exchange).Inc()
				}
				client.logger.Debug("publish confirmed",
					"routing_key", routingKey,
					"delivery_tag", confirm.DeliveryTag,
					"retry_count", retryCount)
				return nil
			}

			client.logger.Warn("publish not acknowledged, retrying",
				"delivery_tag", confirm.DeliveryTag,
				"backoff", backoff)

			if err := wait(); err != nil {
				return err
			}
		}
	}
}

// UnsafePublish publishes without waiting for a confirmation.
// It returns an error only if the client is not connected or the publish itself fails.
func (client *Client) UnsafePublish(ctx context.Context, routingKey string, data []byte) error {
	if !client.Ready() {
		return errNotConnected
	}

	return client.channel.PublishWithContext(
		ctx,
		client.cfg.Exchange, // Exchange
		routingKey,          // Routing key
		false,               // Mandatory
		false,               // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        data,
		},
	)
}

// Consume will continuously put queue items on the channel.
// It is required to call delivery.Ack when it has been
// successfully processed, or delivery.Nack when it fails.
// Ignoring this will cause data to build up on the server.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	if client.cfg.Queue == "" {
		return nil, errNoQueue
	}
	if !client.Ready() {
		return nil, errNotConnected
	}

	if err := client.channel.Qos(
		1,     // prefetchCount
		0,     // prefetchSize
		false, // global
	); err != nil {
		return nil, err
	}

	return client.channel.Consume(
		client.cfg.Queue,
		"hotbox-"+uuid.NewString(), // Consumer tag
		false,                      // Auto-Ack
		false,                      // Exclusive
		false,                      // No-local
		false,                      // No-Wait
		nil,                        // Args
	)
}

// Close stops reconnecting and cleanly shuts down the channel and connection.
func (client *Client) Close() error {
	client.closeOnce.Do(func() { close(client.done) })

	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		return errAlreadyClosed
	}

	if err := client.channel.Close(); err != nil {
		return err
	}
	if err := client.connection.Close(); err != nil {
		return err
	}

	client.isReady = false

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	return nil
}
