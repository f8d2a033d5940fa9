// Package query serves the read-only box query API over gRPC. Messages are
// protobuf well-known types carrying the same JSON shapes as the REST API.
package query

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hotbox.query.v1.BoxQuery"

// Full method names.
const (
	ListBoxesMethod         = "/" + ServiceName + "/ListBoxes"
	GetBoxMethod            = "/" + ServiceName + "/GetBox"
	ListSensorsMethod       = "/" + ServiceName + "/ListSensors"
	QueryMeasurementsMethod = "/" + ServiceName + "/QueryMeasurements"
)

// BoxQueryServer is the server API for the BoxQuery service.
type BoxQueryServer interface {
	ListBoxes(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetBox(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListSensors(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	QueryMeasurements(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the BoxQuery service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BoxQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListBoxes", Handler: listBoxesHandler},
		{MethodName: "GetBox", Handler: getBoxHandler},
		{MethodName: "ListSensors", Handler: listSensorsHandler},
		{MethodName: "QueryMeasurements", Handler: queryMeasurementsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv BoxQueryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func listBoxesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoxQueryServer).ListBoxes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListBoxesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BoxQueryServer).ListBoxes(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getBoxHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoxQueryServer).GetBox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetBoxMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BoxQueryServer).GetBox(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listSensorsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoxQueryServer).ListSensors(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListSensorsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BoxQueryServer).ListSensors(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func queryMeasurementsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BoxQueryServer).QueryMeasurements(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: QueryMeasurementsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BoxQueryServer).QueryMeasurements(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is the client API for the BoxQuery service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ListBoxes returns every registered box.
func (c *Client) ListBoxes(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListBoxesMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBox returns one box.
func (c *Client) GetBox(ctx context.Context, boxID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetBoxMethod, wrapperspb.String(boxID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSensors returns the sensors of a box.
func (c *Client) ListSensors(ctx context.Context, boxID string, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListSensorsMethod, wrapperspb.String(boxID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryMeasurements returns a page of measurements. req carries box_id and
// the optional start_time, end_time, limit and offset fields.
func (c *Client) QueryMeasurements(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QueryMeasurementsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
