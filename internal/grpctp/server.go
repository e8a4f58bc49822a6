package grpctp

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/braid/internal/braid"
	"github.com/hanpama/braid/internal/protoreg"
)

// Register serves qf as the Execute method of reg on s. Malformed requests
// fail with InvalidArgument; a query function error fails with Unavailable.
func Register(s grpc.ServiceRegistrar, reg *protoreg.Registry, qf braid.QueryFunction) {
	method := reg.Execute()
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: string(reg.Service().FullName()),
		HandlerType: (*braid.QueryFunction)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: string(method.Name()),
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := dynamicpb.NewMessage(method.Input())
				if err := dec(in); err != nil {
					return nil, err
				}
				handle := func(ctx context.Context, req any) (any, error) {
					q, err := decodeRequest(req.(*dynamicpb.Message))
					if err != nil {
						return nil, status.Error(codes.InvalidArgument, err.Error())
					}
					res, err := srv.(braid.QueryFunction).Query(ctx, q)
					if err != nil {
						return nil, status.Error(codes.Unavailable, err.Error())
					}
					if res == nil {
						res = &braid.QueryResult{}
					}
					out, err := encodeResponse(method.Output(), res)
					if err != nil {
						return nil, status.Error(codes.Internal, err.Error())
					}
					return out, nil
				}
				if interceptor == nil {
					return handle(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: reg.FullMethod()}
				return interceptor(ctx, in, info, handle)
			},
		}},
		Metadata: reg.File().Path(),
	}, qf)
}
