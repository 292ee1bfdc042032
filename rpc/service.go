package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "orderbook.v1.OrderBookService"

// OrderBookServiceServer is the server API of orderbook.v1.OrderBookService. Requests and
// responses are free-form structs so consumers need no generated stubs.
type OrderBookServiceServer interface {
	GetOrderBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchOrderBook(*structpb.Struct, grpc.ServerStream) error
	SetPaused(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPairs(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var OrderBookServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderBookServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrderBook", Handler: getOrderBookHandler},
		{MethodName: "SetPaused", Handler: setPausedHandler},
		{MethodName: "ListPairs", Handler: listPairsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchOrderBook", Handler: watchOrderBookHandler, ServerStreams: true},
	},
	Metadata: "orderbook/v1/orderbook.proto",
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func getOrderBookHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderBookServiceServer).GetOrderBook(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetOrderBook")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderBookServiceServer).GetOrderBook(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func setPausedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderBookServiceServer).SetPaused(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("SetPaused")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderBookServiceServer).SetPaused(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listPairsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderBookServiceServer).ListPairs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListPairs")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderBookServiceServer).ListPairs(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchOrderBookHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OrderBookServiceServer).WatchOrderBook(in, stream)
}

// OrderBookServiceClient is a thin client for the service.
type OrderBookServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderBookServiceClient(cc grpc.ClientConnInterface) *OrderBookServiceClient {
	return &OrderBookServiceClient{cc: cc}
}

func (c *OrderBookServiceClient) GetOrderBook(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetOrderBook"), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderBookServiceClient) SetPaused(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("SetPaused"), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderBookServiceClient) ListPairs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("ListPairs"), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchOrderBook opens the frame stream. Read frames with RecvMsg into a *structpb.Struct.
func (c *OrderBookServiceClient) WatchOrderBook(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &OrderBookServiceDesc.Streams[0], fullMethod("WatchOrderBook"), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
