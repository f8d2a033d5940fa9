package backend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/hotbox/internal/backend"
	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/metrics"
	"procodus.dev/hotbox/pkg/mq"
	"procodus.dev/hotbox/pkg/mq/mock"
	"procodus.dev/hotbox/pkg/topic"
)

type nopAcker struct{}

func (nopAcker) Ack(uint64, bool) error        { return nil }
func (nopAcker) Nack(uint64, bool, bool) error { return nil }
func (nopAcker) Reject(uint64, bool) error     { return nil }

func freePort() int {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

var _ = Describe("Backend Server", func() {
	var (
		logger *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	validConfig := func() *backend.ServerConfig {
		return &backend.ServerConfig{
			Logger: logger,
			Storage: storage.RouterConfig{
				Driver: storage.DriverSQLite,
				Dir:    "/tmp/hotbox",
			},
			HTTPPort: 8080,
			GRPCPort: 9090,
			Bus: backend.BusConfig{
				Enabled:  true,
				URL:      "amqp://localhost:5672",
				Exchange: "amq.topic",
				Queue:    "hotbox.measurements",
			},
		}
	}

	Describe("NewServer", func() {
		It("should create a server with a valid configuration", func() {
			server, err := backend.NewServer(validConfig())
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should accept a postgres configuration", func() {
			cfg := validConfig()
			cfg.Storage = storage.RouterConfig{
				Driver: storage.DriverPostgres,
				Postgres: storage.PostgresConfig{
					Host:   "localhost",
					Port:   5432,
					User:   "test",
					DBName: "hotbox",
				},
			}
			server, err := backend.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should allow the bus and gRPC to be disabled", func() {
			cfg := validConfig()
			cfg.Bus = backend.BusConfig{}
			cfg.GRPCPort = 0
			_, err := backend.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject a nil config", func() {
			_, err := backend.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		DescribeTable("should reject invalid configurations",
			func(mutate func(*backend.ServerConfig), msg string) {
				cfg := validConfig()
				mutate(cfg)
				server, err := backend.NewServer(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(msg))
				Expect(server).To(BeNil())
			},
			Entry("nil logger", func(c *backend.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("zero HTTP port", func(c *backend.ServerConfig) { c.HTTPPort = 0 }, "HTTP port must be positive"),
			Entry("negative gRPC port", func(c *backend.ServerConfig) { c.GRPCPort = -1 }, "gRPC port cannot be negative"),
			Entry("empty storage dir", func(c *backend.ServerConfig) { c.Storage.Dir = "" }, "storage directory cannot be empty"),
			Entry("unknown driver", func(c *backend.ServerConfig) { c.Storage.Driver = "mysql" }, "unsupported storage driver"),
			Entry("postgres without host", func(c *backend.ServerConfig) {
				c.Storage = storage.RouterConfig{Driver: storage.DriverPostgres, Postgres: storage.PostgresConfig{Port: 5432, User: "u", DBName: "d"}}
			}, "database host cannot be empty"),
			Entry("postgres without port", func(c *backend.ServerConfig) {
				c.Storage = storage.RouterConfig{Driver: storage.DriverPostgres, Postgres: storage.PostgresConfig{Host: "h", User: "u", DBName: "d"}}
			}, "database port must be positive"),
			Entry("postgres without user", func(c *backend.ServerConfig) {
				c.Storage = storage.RouterConfig{Driver: storage.DriverPostgres, Postgres: storage.PostgresConfig{Host: "h", Port: 5432, DBName: "d"}}
			}, "database user cannot be empty"),
			Entry("postgres without database", func(c *backend.ServerConfig) {
				c.Storage = storage.RouterConfig{Driver: storage.DriverPostgres, Postgres: storage.PostgresConfig{Host: "h", Port: 5432, User: "u"}}
			}, "database name cannot be empty"),
			Entry("bus without URL", func(c *backend.ServerConfig) { c.Bus.URL = "" }, "rabbitmq URL cannot be empty"),
			Entry("bus without queue", func(c *backend.ServerConfig) { c.Bus.Queue = "" }, "queue name cannot be empty"),
		)
	})

	Describe("Run", func() {
		var (
			client  *mock.MockClient
			cfg     *backend.ServerConfig
			baseURL string
			cancel  context.CancelFunc
			done    chan error
		)

		BeforeEach(func() {
			client = mock.NewMockClient()
			port := freePort()
			baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)

			cfg = &backend.ServerConfig{
				Logger: logger,
				Storage: storage.RouterConfig{
					Driver: storage.DriverSQLite,
					Dir:    GinkgoT().TempDir(),
				},
				HTTPPort: port,
				Bus: backend.BusConfig{
					Enabled:  true,
					URL:      "amqp://unused",
					Exchange: "amq.topic",
					Queue:    "hotbox.test",
				},
				Registry: metrics.NewRegistry(),
				NewBusClient: func(c mq.Config, _ *slog.Logger) mq.ClientInterface {
					Expect(c.BindingKeys).To(ConsistOf(topic.BindingKey))
					return client
				},
			}

			server, err := backend.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- server.Run(ctx)
			}()

			Eventually(func() (int, error) {
				resp, err := http.Get(baseURL + "/health")
				if err != nil {
					return 0, err
				}
				resp.Body.Close()
				return resp.StatusCode, nil
			}, 5*time.Second, 50*time.Millisecond).Should(Equal(http.StatusOK))
		})

		AfterEach(func() {
			cancel()
			Eventually(done, 10*time.Second).Should(Receive(BeNil()))
			Expect(client.CloseCalls).To(BeNumerically(">=", 1))
		})

		It("should store bus readings for boxes created over HTTP", func() {
			resp, err := http.Post(baseURL+"/api/box", "application/json", bytes.NewBufferString(`{"name":"north"}`))
			Expect(err).NotTo(HaveOccurred())
			var box map[string]interface{}
			Expect(json.NewDecoder(resp.Body).Decode(&box)).To(Succeed())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			boxID := box["id"].(string)

			resp, err = http.Post(baseURL+"/api/box/"+boxID+"/sensors", "application/json",
				bytes.NewBufferString(`{"id":"s1","name":"probe"}`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			client.ConsumeChannel <- amqp.Delivery{
				Acknowledger: nopAcker{},
				RoutingKey:   topic.Measurement(boxID).RoutingKey(),
				Body:         []byte(`{"sensor_id":"s1","timestamp":"2025-01-15T10:00:00","temperature":72.5}`),
			}

			Eventually(func() (float64, error) {
				resp, err := http.Get(baseURL + "/api/box/" + boxID + "/measurements")
				if err != nil {
					return 0, err
				}
				defer resp.Body.Close()
				var page map[string]interface{}
				if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
					return 0, err
				}
				total, _ := page["total_measurements"].(float64)
				return total, nil
			}, 5*time.Second, 50*time.Millisecond).Should(Equal(float64(1)))
		})

		It("should expose metrics", func() {
			resp, err := http.Get(baseURL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
