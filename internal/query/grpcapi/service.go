// Package grpcapi exposes the query engine over gRPC using structpb.Struct
// as the request/response wire type, standing in for a protoc-generated
// service definition (see DESIGN.md for why: no .proto/generated stubs
// ship in this module).
package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"netspectra-core/internal/query/lang"
)

// Server implements the hand-registered "netspectra.query.QueryService"
// gRPC service.
type Server struct {
	DataSource lang.DataSource
}

// Query compiles and evaluates the "query" string field of req, returning
// the result rows under a "rows" list field.
func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	text := req.GetFields()["query"].GetStringValue()
	if text == "" {
		return nil, fmt.Errorf("grpcapi: request is missing a \"query\" field")
	}

	q, err := lang.Compile(text)
	if err != nil {
		return nil, fmt.Errorf("grpcapi: compiling query: %w", err)
	}
	rows, err := lang.Evaluate(ctx, q, s.DataSource)
	if err != nil {
		return nil, fmt.Errorf("grpcapi: evaluating query: %w", err)
	}

	list := make([]interface{}, len(rows))
	for i, row := range rows {
		list[i] = map[string]interface{}(row)
	}
	return structpb.NewStruct(map[string]interface{}{"rows": list})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "netspectra.query.QueryService",
	HandlerType: (*queryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(structpb.Struct)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(queryServiceServer).Query(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/netspectra.query.QueryService/Query"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(queryServiceServer).Query(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "netspectra/query/service.proto",
}

// queryServiceServer is the minimal interface serviceDesc dispatches
// against; Server satisfies it.
type queryServiceServer interface {
	Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Register attaches the query service to a gRPC server.
func Register(s *grpc.Server, impl *Server) {
	s.RegisterService(&serviceDesc, impl)
}
