package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dbhub.Repository"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// RegisterRepositoryServer registers srv on s. The service is described by
// hand; requests and responses travel as JSON.
func RegisterRepositoryServer(s *grpc.Server, srv RepositoryServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*RepositoryServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "FetchSchema", Handler: unaryHandler("FetchSchema", RepositoryServer.FetchSchema)},
			{MethodName: "Query", Handler: unaryHandler("Query", RepositoryServer.Query)},
			{MethodName: "Exec", Handler: unaryHandler("Exec", RepositoryServer.Exec)},
			{MethodName: "Update", Handler: unaryHandler("Update", RepositoryServer.Update)},
			{MethodName: "Close", Handler: unaryHandler("Close", RepositoryServer.Close)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "dbhub",
	}, srv)
}

func unaryHandler[Req, Resp any](method string, call func(RepositoryServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RepositoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RepositoryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
