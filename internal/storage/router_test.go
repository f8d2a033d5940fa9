package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/logger"
	"procodus.dev/hotbox/pkg/metrics"
)

func newTestRouter(dir string, m *metrics.StoreMetrics) *storage.Router {
	router, err := storage.NewRouter(&storage.RouterConfig{
		Logger:  logger.Discard(),
		Metrics: m,
		Driver:  storage.DriverSQLite,
		Dir:     dir,
	})
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(router.Close)
	return router
}

var _ = Describe("Router", func() {
	var (
		ctx context.Context
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
	})

	Describe("NewRouter", func() {
		It("should reject a nil config", func() {
			_, err := storage.NewRouter(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
		})

		It("should reject a nil logger", func() {
			_, err := storage.NewRouter(&storage.RouterConfig{Dir: dir})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should reject an unknown driver", func() {
			_, err := storage.NewRouter(&storage.RouterConfig{Logger: logger.Discard(), Driver: "mongo"})
			Expect(err).To(MatchError(ContainSubstring("unsupported storage driver")))
		})

		It("should reject an empty sqlite directory", func() {
			_, err := storage.NewRouter(&storage.RouterConfig{Logger: logger.Discard(), Driver: storage.DriverSQLite})
			Expect(err).To(HaveOccurred())
		})

		It("should create the registry file", func() {
			newTestRouter(dir, nil)
			Expect(filepath.Join(dir, "common.sqlite")).To(BeAnExistingFile())
		})
	})

	Describe("Handle", func() {
		It("should resolve the reserved id to the registry", func() {
			router := newTestRouter(dir, nil)
			db, err := router.Handle(ctx, storage.RegistryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Migrator().HasTable("boxes")).To(BeTrue())
		})
	})

	Describe("Initialize", func() {
		It("should create a store file with the sensor and measurement tables", func() {
			router := newTestRouter(dir, nil)

			location, err := router.Initialize(ctx, "42")
			Expect(err).NotTo(HaveOccurred())
			Expect(location).To(Equal(filepath.Join(dir, "42.sqlite")))
			Expect(location).To(BeAnExistingFile())

			db, err := router.Handle(ctx, location)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Migrator().HasTable("sensors")).To(BeTrue())
			Expect(db.Migrator().HasTable("measurements")).To(BeTrue())
		})

		It("should refuse identifiers that are not path safe", func() {
			router := newTestRouter(dir, nil)
			_, err := router.Initialize(ctx, "../escape")
			Expect(err).To(MatchError(storage.ErrInvalidInput))
		})

		It("should refuse the reserved registry id", func() {
			router := newTestRouter(dir, nil)
			_, err := router.Initialize(ctx, storage.RegistryID)
			Expect(err).To(MatchError(storage.ErrInvalidInput))
		})
	})

	Describe("Open", func() {
		It("should return the same handle for concurrent opens", func() {
			reg := prometheus.NewRegistry()
			m := metrics.NewStoreMetrics(reg, "test")
			router := newTestRouter(dir, m)

			location, err := router.Initialize(ctx, "7")
			Expect(err).NotTo(HaveOccurred())

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				stores = map[*storage.BoxStore]struct{}{}
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					s, err := router.Open(ctx, location)
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					stores[s] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()

			Expect(stores).To(HaveLen(1))
			Expect(testutil.ToFloat64(m.HandleOpens)).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.OpenHandles)).To(Equal(1.0))
		})

		It("should not create a store for a location that was never initialized", func() {
			router := newTestRouter(dir, nil)
			location := filepath.Join(dir, "77.sqlite")

			_, err := router.Open(ctx, location)
			Expect(err).To(MatchError(storage.ErrBoxNotFound))
			Expect(err).To(MatchError(storage.ErrNotFound))
			_, statErr := os.Stat(location)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})

		It("should open for a caller whose context is already canceled", func() {
			router := newTestRouter(dir, nil)
			location, err := router.Initialize(ctx, "11")
			Expect(err).NotTo(HaveOccurred())
			Expect(router.Close()).To(Succeed())

			reopened := newTestRouter(dir, nil)
			canceled, cancel := context.WithCancel(ctx)
			cancel()

			store, err := reopened.Open(canceled, location)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Location()).To(Equal(location))
		})

		It("should refuse the registry id", func() {
			router := newTestRouter(dir, nil)
			_, err := router.Open(ctx, storage.RegistryID)
			Expect(err).To(MatchError(storage.ErrInvalidInput))
		})

		It("should fail after close", func() {
			router := newTestRouter(dir, nil)
			location, err := router.Initialize(ctx, "8")
			Expect(err).NotTo(HaveOccurred())
			Expect(router.Close()).To(Succeed())

			_, err = router.Open(ctx, location)
			Expect(err).To(MatchError(storage.ErrClosed))
		})
	})

	Describe("Dispose", func() {
		It("should evict the handle and remove the file", func() {
			reg := prometheus.NewRegistry()
			m := metrics.NewStoreMetrics(reg, "test")
			router := newTestRouter(dir, m)

			location, err := router.Initialize(ctx, "9")
			Expect(err).NotTo(HaveOccurred())
			first, err := router.Open(ctx, location)
			Expect(err).NotTo(HaveOccurred())

			Expect(router.Dispose(ctx, location)).To(Succeed())
			_, statErr := os.Stat(location)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
			Expect(testutil.ToFloat64(m.OpenHandles)).To(Equal(0.0))
			Expect(testutil.ToFloat64(m.BoxLifecycle.WithLabelValues("disposed"))).To(Equal(1.0))

			_, err = router.Open(ctx, location)
			Expect(err).To(MatchError(storage.ErrBoxNotFound))
			_, statErr = os.Stat(location)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
			Expect(testutil.ToFloat64(m.OpenHandles)).To(Equal(0.0))

			// Re-initializing gives a fresh handle.
			_, err = router.Initialize(ctx, "9")
			Expect(err).NotTo(HaveOccurred())
			second, err := router.Open(ctx, location)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).NotTo(BeIdenticalTo(first))
		})
	})

	Describe("Ping", func() {
		It("should reach the registry", func() {
			router := newTestRouter(dir, nil)
			Expect(router.Ping(ctx)).To(Succeed())
		})
	})
})
