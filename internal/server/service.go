// Service descriptor and client for recordindex.v1.RecordIndex.
// Messages are protobuf well-known types, so no generated code is needed.
package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "recordindex.v1.RecordIndex"

const (
	methodScanRecords       = "/" + ServiceName + "/ScanRecords"
	methodQueryIndex        = "/" + ServiceName + "/QueryIndex"
	methodListVirtualFields = "/" + ServiceName + "/ListVirtualFields"
	methodNormalizeScan     = "/" + ServiceName + "/NormalizeScan"
)

// RecordIndexServer is the server API of the RecordIndex service
type RecordIndexServer interface {
	// ScanRecords streams the records selected by a record scan document
	ScanRecords(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	// QueryIndex streams the target keys of {index, values, scan}
	QueryIndex(*structpb.Struct, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	// ListVirtualFields describes every virtual field
	ListVirtualFields(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// NormalizeScan decodes a record scan document and encodes it back
	NormalizeScan(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRecordIndexServer registers srv with s
func RegisterRecordIndexServer(s grpc.ServiceRegistrar, srv RecordIndexServer) {
	s.RegisterService(&serviceDesc, srv)
}

func scanRecordsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RecordIndexServer).ScanRecords(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func queryIndexHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RecordIndexServer).QueryIndex(in, &grpc.GenericServerStream[structpb.Struct, wrapperspb.BytesValue]{ServerStream: stream})
}

func listVirtualFieldsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordIndexServer).ListVirtualFields(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListVirtualFields}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordIndexServer).ListVirtualFields(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func normalizeScanHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordIndexServer).NormalizeScan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodNormalizeScan}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordIndexServer).NormalizeScan(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordIndexServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListVirtualFields", Handler: listVirtualFieldsHandler},
		{MethodName: "NormalizeScan", Handler: normalizeScanHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ScanRecords", Handler: scanRecordsHandler, ServerStreams: true},
		{StreamName: "QueryIndex", Handler: queryIndexHandler, ServerStreams: true},
	},
	Metadata: "recordindex/v1/recordindex.proto",
}

// Client calls the RecordIndex service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ScanRecords starts a record scan
func (c *Client) ScanRecords(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], methodScanRecords, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// QueryIndex starts an index query
func (c *Client) QueryIndex(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[1], methodQueryIndex, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// ListVirtualFields lists the virtual fields
func (c *Client) ListVirtualFields(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodListVirtualFields, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeScan returns the canonical form of a record scan document
func (c *Client) NormalizeScan(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodNormalizeScan, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
