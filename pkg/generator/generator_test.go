package generator_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/hotbox/pkg/generator"
)

var _ = Describe("Generator", func() {
	Describe("NewSensor", func() {
		It("should populate every field", func() {
			s := generator.NewSensor()
			Expect(s).NotTo(BeNil())
			Expect(s.ID).To(MatchRegexp(`^28[0-9a-f]{14}$`))
			Expect(s.Name).To(HaveSuffix(" shelf"))
			Expect(s.Type).To(BeElementOf("ds18b20", "dht22", "sht31"))
			Expect(s.Location).NotTo(BeEmpty())
		})
	})

	Describe("NewBoxMetadata", func() {
		It("should include a name", func() {
			md := generator.NewBoxMetadata()
			Expect(md).To(HaveKey("name"))
			Expect(md["name"]).To(HaveSuffix("greenhouse"))
		})
	})

	Describe("SensorGenerator", func() {
		It("should emit readings for its sensor with a firmware timestamp", func() {
			g := generator.NewSensorGenerator("s1", true)
			at := time.Date(2025, 9, 10, 10, 0, 0, 0, time.UTC)

			r := g.Reading(at)
			Expect(r.SensorID).To(Equal("s1"))
			Expect(r.Timestamp).To(Equal("2025-09-10T10:00:00"))
			Expect(r.Humidity).NotTo(BeNil())
			Expect(*r.Humidity).To(BeNumerically(">=", 10))
			Expect(*r.Humidity).To(BeNumerically("<=", 95))
		})

		It("should omit humidity when disabled", func() {
			g := generator.NewSensorGenerator("s1", false)
			Expect(g.Reading(time.Now()).Humidity).To(BeNil())
		})

		It("should keep temperatures in a plausible indoor range", func() {
			g := generator.NewSensorGenerator("s1", false)
			start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			for h := 0; h < 24; h++ {
				temp := g.Temperature(start.Add(time.Duration(h) * time.Hour))
				Expect(temp).To(BeNumerically(">", 50))
				Expect(temp).To(BeNumerically("<", 95))
			}
		})
	})
})
