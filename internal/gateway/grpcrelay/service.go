package grpcrelay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Relay service. Messages are protobuf well-known wrappers; byte payloads
// carry CBOR encoded wire types.
const (
	ServiceName = "gatewaykit.relay.v1.Relay"

	PingMethod           = "/" + ServiceName + "/Ping"
	RequestMethod        = "/" + ServiceName + "/Request"
	RegisterNodeMethod   = "/" + ServiceName + "/RegisterNode"
	DeliverParcelMethod  = "/" + ServiceName + "/DeliverParcel"
	CollectParcelsMethod = "/" + ServiceName + "/CollectParcels"
	AckParcelMethod      = "/" + ServiceName + "/AckParcel"

	// EntryPointHeader names the entry point a Ping or Request is for.
	EntryPointHeader = "x-relay-entry-point"
)

// RelayClient is the client API for the relay service.
type RelayClient interface {
	Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Request(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	RegisterNode(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	DeliverParcel(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	CollectParcels(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue], error)
	AckParcel(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type relayClient struct {
	cc grpc.ClientConnInterface
}

func NewRelayClient(cc grpc.ClientConnInterface) RelayClient {
	return &relayClient{cc}
}

func (c *relayClient) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PingMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *relayClient) Request(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, RequestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *relayClient) RegisterNode(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, RegisterNodeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *relayClient) DeliverParcel(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, DeliverParcelMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *relayClient) CollectParcels(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &Relay_ServiceDesc.Streams[0], CollectParcelsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: stream}, nil
}

func (c *relayClient) AckParcel(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, AckParcelMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RelayServer is the server API for the relay service.
type RelayServer interface {
	Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Request(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	RegisterNode(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	DeliverParcel(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	CollectParcels(grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]) error
	AckParcel(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&Relay_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(RelayServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func collectParcelsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).CollectParcels(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

//nolint:revive // mirrors generated descriptor naming
var Relay_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unaryHandler(PingMethod, RelayServer.Ping)},
		{MethodName: "Request", Handler: unaryHandler(RequestMethod, RelayServer.Request)},
		{MethodName: "RegisterNode", Handler: unaryHandler(RegisterNodeMethod, RelayServer.RegisterNode)},
		{MethodName: "DeliverParcel", Handler: unaryHandler(DeliverParcelMethod, RelayServer.DeliverParcel)},
		{MethodName: "AckParcel", Handler: unaryHandler(AckParcelMethod, RelayServer.AckParcel)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CollectParcels",
			Handler:       collectParcelsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "gatewaykit/relay/v1/relay.proto",
}
