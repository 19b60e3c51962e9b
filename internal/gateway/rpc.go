// ABOUTME: gRPC query service exposing stats, sessions and agents as protobuf Structs
// ABOUTME: Hand-written service descriptor plus the standard gRPC health service

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/args-gateway/internal/coordinator"
)

// QueryServiceName is the fully-qualified name of the query service.
const QueryServiceName = "args.v1.Query"

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Full method names of the query service.
const (
	MethodStats        = "/" + QueryServiceName + "/Stats"
	MethodListSessions = "/" + QueryServiceName + "/ListSessions"
	MethodListAgents   = "/" + QueryServiceName + "/ListAgents"
)

// QueryServer answers read-only queries about the coordination state.
type QueryServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListAgents(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type queryServer struct {
	coord *coordinator.Coordinator
}

func (s *queryServer) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.coord.Stats())
}

func (s *queryServer) ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.coord.Sessions())
}

func (s *queryServer) ListAgents(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.coord.Agents())
}

// toStruct converts a JSON-tagged projection into a protobuf Struct with the same keys.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

func queryHandler(call func(QueryServer, context.Context, *emptypb.Empty) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(QueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(QueryServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: queryHandler(QueryServer.Stats, MethodStats)},
		{MethodName: "ListSessions", Handler: queryHandler(QueryServer.ListSessions, MethodListSessions)},
		{MethodName: "ListAgents", Handler: queryHandler(QueryServer.ListAgents, MethodListAgents)},
	},
	Metadata: "args/v1/query.proto",
}

// registerQueryServices registers the query and health services on server.
func registerQueryServices(server *grpc.Server, coord *coordinator.Coordinator) *health.Server {
	server.RegisterService(&queryServiceDesc, &queryServer{coord: coord})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(QueryServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return hs
}

// QueryClient calls the query service over an existing connection.
type QueryClient struct {
	cc grpc.ClientConnInterface
}

// NewQueryClient wraps cc.
func NewQueryClient(cc grpc.ClientConnInterface) *QueryClient {
	return &QueryClient{cc: cc}
}

func (c *QueryClient) invoke(ctx context.Context, method string, opts ...grpc.CallOption) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return out.AsMap(), nil
}

// Stats returns the server statistics.
func (c *QueryClient) Stats(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	return c.invoke(ctx, MethodStats, opts...)
}

// ListSessions returns the session listing.
func (c *QueryClient) ListSessions(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	return c.invoke(ctx, MethodListSessions, opts...)
}

// ListAgents returns the agent listing with its indexes.
func (c *QueryClient) ListAgents(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	return c.invoke(ctx, MethodListAgents, opts...)
}
