package grpc_control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "marketstream.control.MarketStreamControl"

const (
	methodListFeeds   = "/" + ServiceName + "/ListFeeds"
	methodRestartFeed = "/" + ServiceName + "/RestartFeed"
	methodGetStats    = "/" + ServiceName + "/GetStats"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// MarketStreamControlServer is the control plane. Messages are well-known
// protobuf types so no generated code is needed.
type MarketStreamControlServer interface {
	ListFeeds(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RestartFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedMarketStreamControlServer can be embedded for forward
// compatibility.
type UnimplementedMarketStreamControlServer struct{}

func (UnimplementedMarketStreamControlServer) ListFeeds(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListFeeds not implemented")
}
func (UnimplementedMarketStreamControlServer) RestartFeed(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method RestartFeed not implemented")
}
func (UnimplementedMarketStreamControlServer) GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStats not implemented")
}

func RegisterMarketStreamControlServer(s grpc.ServiceRegistrar, srv MarketStreamControlServer) {
	s.RegisterService(&MarketStreamControl_ServiceDesc, srv)
}

// -----------------------------------------------------------------------------

func _ListFeeds_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketStreamControlServer).ListFeeds(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListFeeds}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketStreamControlServer).ListFeeds(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _RestartFeed_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketStreamControlServer).RestartFeed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRestartFeed}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketStreamControlServer).RestartFeed(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _GetStats_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketStreamControlServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStats}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketStreamControlServer).GetStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var MarketStreamControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketStreamControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListFeeds", Handler: _ListFeeds_Handler},
		{MethodName: "RestartFeed", Handler: _RestartFeed_Handler},
		{MethodName: "GetStats", Handler: _GetStats_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control.proto",
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

type MarketStreamControlClient interface {
	ListFeeds(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	RestartFeed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetStats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type marketStreamControlClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketStreamControlClient(cc grpc.ClientConnInterface) MarketStreamControlClient {
	return &marketStreamControlClient{cc}
}

func (c *marketStreamControlClient) ListFeeds(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListFeeds, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *marketStreamControlClient) RestartFeed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodRestartFeed, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *marketStreamControlClient) GetStats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStats, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
