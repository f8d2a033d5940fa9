package consumer_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/hotbox/internal/consumer"
	"procodus.dev/hotbox/internal/ingest"
	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/logger"
	"procodus.dev/hotbox/pkg/metrics"
	"procodus.dev/hotbox/pkg/mq/mock"
)

// recordingAcker counts acknowledgements of a delivery.
type recordingAcker struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
}

func (a *recordingAcker) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *recordingAcker) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *recordingAcker) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	return nil
}

func (a *recordingAcker) counts() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.rejects
}

// fakeIngester records calls and returns a configured error.
type fakeIngester struct {
	mu    sync.Mutex
	err   error
	calls []call
}

type call struct {
	boxID string
	in    ingest.Input
}

func (f *fakeIngester) Ingest(_ context.Context, boxID string, in ingest.Input) (*storage.MeasurementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{boxID: boxID, in: in})
	if f.err != nil {
		return nil, f.err
	}
	return &storage.MeasurementRecord{ID: int64(len(f.calls)), SensorID: in.SensorID}, nil
}

func (f *fakeIngester) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

var _ = Describe("Consumer", func() {
	var (
		client   *mock.MockClient
		ingester *fakeIngester
		m        *metrics.ConsumerMetrics
		c        *consumer.Consumer
		acker    *recordingAcker
	)

	delivery := func(routingKey, body string) amqp.Delivery {
		return amqp.Delivery{
			Acknowledger: acker,
			RoutingKey:   routingKey,
			Body:         []byte(body),
		}
	}

	BeforeEach(func() {
		client = mock.NewMockClient()
		ingester = &fakeIngester{}
		acker = &recordingAcker{}
		m = metrics.NewConsumerMetrics(prometheus.NewRegistry(), "test")

		var err error
		c, err = consumer.New(&consumer.Config{
			Logger:  logger.Discard(),
			Client:  client,
			Ingest:  ingester,
			Metrics: m,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("should reject a nil config", func() {
			_, err := consumer.New(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
		})

		It("should reject a nil logger", func() {
			_, err := consumer.New(&consumer.Config{Client: client, Ingest: ingester})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should reject a nil client", func() {
			_, err := consumer.New(&consumer.Config{Logger: logger.Discard(), Ingest: ingester})
			Expect(err).To(MatchError(ContainSubstring("mq client cannot be nil")))
		})

		It("should reject a nil ingest service", func() {
			_, err := consumer.New(&consumer.Config{Logger: logger.Discard(), Client: client})
			Expect(err).To(MatchError(ContainSubstring("ingest service cannot be nil")))
		})
	})

	Describe("Handle", func() {
		ctx := context.Background()

		It("should forward a measurement with the box id from the topic", func() {
			outcome := c.Handle(ctx, delivery("origin.42.measurement",
				`{"sensor_id":"s1","timestamp":"2025-09-10T10:00:00","temperature":71.5,"humidity":40}`))

			Expect(outcome).To(Equal(consumer.OutcomeStored))
			calls := ingester.recorded()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].boxID).To(Equal("42"))
			Expect(calls[0].in.SensorID).To(Equal("s1"))
			Expect(calls[0].in.Temperature).To(HaveValue(Equal(71.5)))
			Expect(calls[0].in.Humidity).To(HaveValue(Equal(40.0)))
			Expect(calls[0].in.Source).To(Equal(ingest.SourceBus))

			acks, nacks, rejects := acker.counts()
			Expect(acks).To(Equal(1))
			Expect(nacks + rejects).To(BeZero())
			Expect(testutil.ToFloat64(m.MessagesTotal.WithLabelValues("stored"))).To(Equal(1.0))
		})

		It("should accept slash separated topics", func() {
			Expect(c.Handle(ctx, delivery("origin/42/measurement", `{"sensor_id":"s1","timestamp":"t","temperature":1}`))).
				To(Equal(consumer.OutcomeStored))
		})

		It("should ignore other message types", func() {
			Expect(c.Handle(ctx, delivery("origin.42.status", `{"online":true}`))).To(Equal(consumer.OutcomeIgnored))
			Expect(ingester.recorded()).To(BeEmpty())
			acks, _, _ := acker.counts()
			Expect(acks).To(Equal(1))
		})

		DescribeTable("should drop malformed messages",
			func(routingKey, body string) {
				Expect(c.Handle(ctx, delivery(routingKey, body))).To(Equal(consumer.OutcomeMalformed))
				Expect(ingester.recorded()).To(BeEmpty())
				acks, nacks, _ := acker.counts()
				Expect(acks).To(Equal(1))
				Expect(nacks).To(BeZero())
			},
			Entry("not JSON", "origin.42.measurement", "temperature=70"),
			Entry("JSON array", "origin.42.measurement", `[1,2]`),
			Entry("wrong field type", "origin.42.measurement", `{"temperature":"hot"}`),
			Entry("empty body", "origin.42.measurement", ``),
			Entry("short topic", "origin.42", `{}`),
			Entry("wrong root", "status.42.measurement", `{}`),
		)

		It("should drop measurements the ingestion service rejects", func() {
			ingester.err = storage.ErrSensorNotFound
			Expect(c.Handle(ctx, delivery("origin.42.measurement", `{"sensor_id":"ghost","timestamp":"t","temperature":1}`))).
				To(Equal(consumer.OutcomeRejected))
			acks, nacks, _ := acker.counts()
			Expect(acks).To(Equal(1))
			Expect(nacks).To(BeZero())
			Expect(testutil.ToFloat64(m.MessagesTotal.WithLabelValues("rejected"))).To(Equal(1.0))
		})

		It("should drop on storage failures without requeueing", func() {
			ingester.err = errors.New("disk full")
			Expect(c.Handle(ctx, delivery("origin.42.measurement", `{"sensor_id":"s1","timestamp":"t","temperature":1}`))).
				To(Equal(consumer.OutcomeRejected))
			_, nacks, rejects := acker.counts()
			Expect(nacks + rejects).To(BeZero())
		})
	})

	Describe("Start and Stop", func() {
		It("should process deliveries until stopped", func() {
			Expect(c.Start(context.Background())).To(Succeed())
			Expect(testutil.ToFloat64(m.ActiveConsumers)).To(Equal(1.0))

			client.ConsumeChannel <- delivery("origin.7.measurement", `{"sensor_id":"s1","timestamp":"t","temperature":1}`)
			Eventually(ingester.recorded).Should(HaveLen(1))

			Expect(c.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
			Expect(testutil.ToFloat64(m.ActiveConsumers)).To(Equal(0.0))
		})

		It("should stop when the deliveries channel closes", func() {
			Expect(c.Start(context.Background())).To(Succeed())
			close(client.ConsumeChannel)
			Eventually(func() float64 { return testutil.ToFloat64(m.ActiveConsumers) }).Should(Equal(0.0))
			Expect(c.Stop()).To(Succeed())
		})

		It("should fail when the bus is not ready", func() {
			client.WaitReadyError = errors.New("not connected")
			Expect(c.Start(context.Background())).To(MatchError(ContainSubstring("not ready")))
		})

		It("should fail when consuming cannot start", func() {
			client.ConsumeError = errors.New("no queue")
			Expect(c.Start(context.Background())).To(MatchError(ContainSubstring("failed to start consuming")))
		})

		It("should be safe to stop without starting", func() {
			Expect(c.Stop()).To(Succeed())
			Expect(c.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
		})
	})
})
