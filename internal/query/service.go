package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"procodus.dev/hotbox/internal/storage"
	"procodus.dev/hotbox/pkg/metrics"
)

// Service implements BoxQueryServer on top of the registry.
type Service struct {
	logger   *slog.Logger
	registry *storage.Registry
}

var _ BoxQueryServer = (*Service)(nil)

// NewService creates a new query service.
func NewService(logger *slog.Logger, registry *storage.Registry) (*Service, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}

	return &Service{
		logger:   logger.With("component", "query"),
		registry: registry,
	}, nil
}

// ListBoxes returns every registered box.
func (s *Service) ListBoxes(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	boxes, err := s.registry.ListBoxes(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toList(boxes)
}

// GetBox returns one box.
func (s *Service) GetBox(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	box, err := s.registry.GetBox(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toStruct(box)
}

// ListSensors returns the sensors of a box.
func (s *Service) ListSensors(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	_, store, err := s.registry.OpenBox(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	sensors, err := store.ListSensors(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toList(sensors)
}

// QueryMeasurements returns a page of measurements in the REST response shape.
func (s *Service) QueryMeasurements(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	boxID := fields["box_id"].GetStringValue()
	if boxID == "" {
		return nil, status.Error(codes.InvalidArgument, "box_id is required")
	}

	var filter storage.MeasurementFilter
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"start_time", &filter.Start}, {"end_time", &filter.End}} {
		raw := fields[bound.key].GetStringValue()
		if raw == "" {
			continue
		}
		t, err := storage.ParseTimestamp(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be an ISO 8601 date-time", bound.key)
		}
		*bound.dst = &t
	}
	if v, ok := fields["limit"]; ok {
		filter.Limit = clampInt(v.GetNumberValue(), storage.MaxLimit)
	}
	if v, ok := fields["offset"]; ok {
		filter.Offset = clampInt(v.GetNumberValue(), math.MaxInt32)
	}

	_, store, err := s.registry.OpenBox(ctx, boxID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	page, err := store.QueryMeasurements(ctx, filter)
	if err != nil {
		return nil, s.toStatus(err)
	}

	return toStruct(struct {
		BoxID string `json:"box_id"`
		*storage.MeasurementPage
	}{BoxID: boxID, MeasurementPage: page})
}

// clampInt truncates a JSON number into [0, upper]. NaN maps to 0.
func clampInt(v float64, upper int) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= float64(upper):
		return upper
	}
	return int(math.Trunc(v))
}

func (s *Service) toStatus(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		s.logger.Error("query failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toList(v interface{}) (*structpb.ListValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	if string(raw) == "null" {
		raw = []byte("[]")
	}
	out := &structpb.ListValue{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// UnaryInterceptor records request metrics and logs failed calls.
func UnaryInterceptor(logger *slog.Logger, m *metrics.GRPCMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		method := path.Base(info.FullMethod)
		code := status.Code(err)
		if m != nil {
			m.RequestsTotal.WithLabelValues(method, code.String()).Inc()
			m.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
		if err != nil && logger != nil {
			logger.Debug("grpc call failed", "method", method, "code", code.String(), "error", err)
		}
		return resp, err
	}
}
