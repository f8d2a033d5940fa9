package storage_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/hotbox/internal/storage"
)

func ptr[T any](v T) *T {
	return &v
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 9, 10, hour, minute, 0, 0, time.UTC)
}

var _ = Describe("BoxStore", func() {
	var (
		ctx   context.Context
		store *storage.BoxStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		router := newTestRouter(GinkgoT().TempDir(), nil)
		box, err := router.Registry().CreateBox(ctx, storage.Metadata{"name": "Greenhouse"})
		Expect(err).NotTo(HaveOccurred())
		_, store, err = router.Registry().OpenBox(ctx, box.ID)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("CreateSensor", func() {
		It("should be idempotent on the sensor id", func() {
			first, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf", Type: ptr("dht22")})
			Expect(err).NotTo(HaveOccurred())
			second, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf"})
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
			sensors, err := store.ListSensors(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sensors).To(HaveLen(1))
		})

		It("should keep the stored record when re-submitted with other fields", func() {
			_, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf"})
			Expect(err).NotTo(HaveOccurred())
			again, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Renamed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Name).To(Equal("Top Shelf"))
		})

		It("should generate an id when none is given", func() {
			sensor, err := store.CreateSensor(ctx, storage.SensorInput{Name: "Door"})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.ID).NotTo(BeEmpty())
		})

		It("should require a name", func() {
			_, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1"})
			Expect(err).To(MatchError(storage.ErrInvalidInput))
			Expect(err.Error()).To(ContainSubstring("name"))
		})
	})

	Describe("GetSensor", func() {
		It("should report a missing sensor", func() {
			_, err := store.GetSensor(ctx, "nope")
			Expect(err).To(MatchError(storage.ErrSensorNotFound))
		})
	})

	Describe("UpdateSensor", func() {
		BeforeEach(func() {
			_, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf", Location: ptr("north")})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep the name when the patch name is empty", func() {
			sensor, err := store.UpdateSensor(ctx, "s1", storage.SensorPatch{Name: ptr(""), Type: ptr("sht31")})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.Name).To(Equal("Top Shelf"))
			Expect(sensor.Type).To(HaveValue(Equal("sht31")))
			Expect(sensor.Location).To(HaveValue(Equal("north")))
		})

		It("should replace the provided fields", func() {
			sensor, err := store.UpdateSensor(ctx, "s1", storage.SensorPatch{Name: ptr("Bottom"), Location: ptr("south")})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.Name).To(Equal("Bottom"))
			Expect(sensor.Location).To(HaveValue(Equal("south")))
		})

		It("should report a missing sensor", func() {
			_, err := store.UpdateSensor(ctx, "nope", storage.SensorPatch{Name: ptr("x")})
			Expect(err).To(MatchError(storage.ErrSensorNotFound))
		})
	})

	Describe("AppendMeasurement", func() {
		It("should reject an unknown sensor without writing", func() {
			_, err := store.AppendMeasurement(ctx, storage.MeasurementInput{SensorID: "ghost", Timestamp: at(9, 0), Temperature: 70})
			Expect(err).To(MatchError(storage.ErrSensorNotFound))

			n, err := store.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should return the stored values joined with the sensor name", func() {
			_, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf"})
			Expect(err).NotTo(HaveOccurred())

			rec, err := store.AppendMeasurement(ctx, storage.MeasurementInput{
				SensorID:    "s1",
				Timestamp:   at(10, 0),
				Temperature: 72.5,
				Humidity:    ptr(40.25),
				Notes:       ptr("door open"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ID).To(BeNumerically(">", 0))
			Expect(rec.SensorName).To(Equal("Top Shelf"))
			Expect(rec.Temperature).To(Equal(72.5))
			Expect(rec.Humidity).To(HaveValue(Equal(40.25)))
			Expect(rec.Notes).To(HaveValue(Equal("door open")))
			Expect(rec.Timestamp).To(BeTemporally("==", at(10, 0)))

			got, err := store.GetMeasurement(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SensorName).To(Equal("Top Shelf"))
			Expect(got.Temperature).To(Equal(72.5))
			Expect(got.Timestamp).To(BeTemporally("==", at(10, 0)))
		})

		It("should keep a missing humidity as null", func() {
			_, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf"})
			Expect(err).NotTo(HaveOccurred())
			rec, err := store.AppendMeasurement(ctx, storage.MeasurementInput{SensorID: "s1", Timestamp: at(10, 0), Temperature: 70})
			Expect(err).NotTo(HaveOccurred())
			got, err := store.GetMeasurement(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Humidity).To(BeNil())
			Expect(got.Notes).To(BeNil())
		})
	})

	Describe("GetMeasurement", func() {
		It("should report a missing measurement", func() {
			_, err := store.GetMeasurement(ctx, 999)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("QueryMeasurements", func() {
		BeforeEach(func() {
			_, err := store.CreateSensor(ctx, storage.SensorInput{ID: "s1", Name: "Top Shelf"})
			Expect(err).NotTo(HaveOccurred())
			for _, ts := range []time.Time{at(10, 0), at(9, 0), at(11, 0)} {
				_, err := store.AppendMeasurement(ctx, storage.MeasurementInput{SensorID: "s1", Timestamp: ts, Temperature: float64(ts.Hour())})
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should order by timestamp descending", func() {
			page, err := store.QueryMeasurements(ctx, storage.MeasurementFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Measurements).To(HaveLen(3))
			Expect(page.Measurements[0].Temperature).To(Equal(11.0))
			Expect(page.Measurements[1].Temperature).To(Equal(10.0))
			Expect(page.Measurements[2].Temperature).To(Equal(9.0))
			Expect(page.Limit).To(Equal(storage.DefaultLimit))
			Expect(page.Sensors).To(HaveLen(1))
		})

		It("should filter an inclusive range", func() {
			page, err := store.QueryMeasurements(ctx, storage.MeasurementFilter{Start: ptr(at(9, 30)), End: ptr(at(10, 30))})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Measurements).To(HaveLen(1))
			Expect(page.Measurements[0].Timestamp).To(BeTemporally("==", at(10, 0)))

			page, err = store.QueryMeasurements(ctx, storage.MeasurementFilter{Start: ptr(at(9, 0)), End: ptr(at(10, 0))})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Measurements).To(HaveLen(2))
		})

		It("should report the unfiltered total regardless of paging", func() {
			page, err := store.QueryMeasurements(ctx, storage.MeasurementFilter{Limit: 1, Offset: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Measurements).To(HaveLen(1))
			Expect(page.Measurements[0].Temperature).To(Equal(10.0))
			Expect(page.Total).To(Equal(int64(3)))

			page, err = store.QueryMeasurements(ctx, storage.MeasurementFilter{Start: ptr(at(10, 30))})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Measurements).To(HaveLen(1))
			Expect(page.Total).To(Equal(int64(3)))
		})

		It("should clamp the page bounds", func() {
			page, err := store.QueryMeasurements(ctx, storage.MeasurementFilter{Limit: 5000, Offset: -4})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Limit).To(Equal(storage.MaxLimit))
			Expect(page.Offset).To(BeZero())
		})
	})
})

var _ = Describe("ParseTimestamp", func() {
	DescribeTable("should accept firmware and RFC 3339 layouts",
		func(input string, expected time.Time) {
			t, err := storage.ParseTimestamp(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(t).To(BeTemporally("==", expected))
			Expect(t.Location()).To(Equal(time.UTC))
		},
		Entry("RFC 3339 UTC", "2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Entry("RFC 3339 offset", "2024-01-01T02:00:00+02:00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Entry("zone-less", "2025-09-10T10:00:00", at(10, 0)),
		Entry("space separated", "2025-09-10 10:00:00", at(10, 0)),
		Entry("fractional", "2025-09-10T10:00:00.500", at(10, 0).Add(500*time.Millisecond)),
		Entry("date only", "2025-09-10", at(0, 0)),
	)

	It("should reject garbage", func() {
		_, err := storage.ParseTimestamp("yesterday")
		Expect(err).To(HaveOccurred())
	})
})
