package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

type controlServer interface {
	Do(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Do", Handler: doHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "voiceqa/control.proto",
}

func doHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controlServer).Do(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDo}
	next := func(ctx context.Context, req any) (any, error) {
		return srv.(controlServer).Do(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, next)
}

// handlerAdapter bridges the wire service to a Handler.
type handlerAdapter struct {
	handler Handler
}

func (a handlerAdapter) Do(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req Request
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	out, err := toStruct(a.handler.Handle(ctx, req))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Serve runs the control service on listener until context cancellation.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	server := grpc.NewServer()
	server.RegisterService(&controlServiceDesc, handlerAdapter{handler: handler})

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		server.GracefulStop()
	}()

	if err := server.Serve(listener); err != nil {
		if errors.Is(err, grpc.ErrServerStopped) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("serve IPC: %w", err)
	}
	return nil
}
