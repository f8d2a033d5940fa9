//go:build e2e

package backend

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ = Describe("gRPC query API", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		boxID  string
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		boxID = createBox("queried", "s1")
		Expect(doJSON(http.MethodPost, "/api/box/"+boxID+"/measurements", map[string]interface{}{
			"sensor_id": "s1", "timestamp": "2025-01-15T10:00:00", "temperature": 71.0,
		}, nil)).To(Equal(http.StatusCreated))
	})

	AfterEach(func() {
		cancel()
	})

	It("should list registered boxes", func() {
		boxes, err := queryClient.ListBoxes(ctx)
		Expect(err).NotTo(HaveOccurred())

		var ids []string
		for _, v := range boxes.GetValues() {
			ids = append(ids, v.GetStructValue().GetFields()["id"].GetStringValue())
		}
		Expect(ids).To(ContainElement(boxID))
	})

	It("should return a box with its metadata", func() {
		box, err := queryClient.GetBox(ctx, boxID)
		Expect(err).NotTo(HaveOccurred())
		Expect(box.GetFields()["name"].GetStringValue()).To(Equal("queried"))
	})

	It("should list the sensors of a box", func() {
		sensors, err := queryClient.ListSensors(ctx, boxID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sensors.GetValues()).To(HaveLen(1))
	})

	It("should query measurements with the HTTP response shape", func() {
		req, err := structpb.NewStruct(map[string]interface{}{"box_id": boxID, "limit": 10})
		Expect(err).NotTo(HaveOccurred())

		resp, err := queryClient.QueryMeasurements(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.GetFields()["total_measurements"].GetNumberValue()).To(Equal(float64(1)))
		Expect(resp.GetFields()["measurements"].GetListValue().GetValues()).To(HaveLen(1))
	})

	It("should map unknown boxes to NotFound", func() {
		_, err := queryClient.GetBox(ctx, "404404")
		Expect(status.Code(err)).To(Equal(codes.NotFound))
	})
})
