// Package grpcapi serves the calculator over gRPC. The service is declared by
// hand on top of the protobuf well-known types, so no generated code is
// needed on either side.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lemonberrylabs/calcd/pkg/api"
	"github.com/lemonberrylabs/calcd/pkg/expr"
	"github.com/lemonberrylabs/calcd/pkg/session"
	"github.com/lemonberrylabs/calcd/pkg/store"
	"github.com/lemonberrylabs/calcd/pkg/types"
)

// ServiceName is the fully qualified name of the calculator service.
const ServiceName = "calc.v1.Calculator"

// CalculatorServer is the server API of calc.v1.Calculator.
type CalculatorServer interface {
	// Evaluate evaluates a single expression.
	Evaluate(context.Context, *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error)
	// Run evaluates calculator source, or the stored program it names when
	// the value starts with "programs/", and returns the printed results.
	Run(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	// ListPrograms returns the names of all stored programs.
	ListPrograms(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// ServiceDesc describes calc.v1.Calculator for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CalculatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "ListPrograms", Handler: listProgramsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "calc/v1/calculator.proto",
}

// Server implements the Calculator gRPC service.
type Server struct {
	store *store.Store
	opts  session.Options
	log   zerolog.Logger
	grpc  *grpc.Server
}

var _ CalculatorServer = (*Server)(nil)

// New creates a new gRPC server wrapping the given store.
func New(s *store.Store, opts session.Options, logger zerolog.Logger) *Server {
	opts.Interactive = false
	srv := &Server{
		store: s,
		opts:  opts,
		log:   logger,
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(logUnary(logger)))
	gs.RegisterService(&ServiceDesc, srv)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeListener(lis)
}

// ServeListener serves gRPC requests on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

// --- Calculator Service ---

func (s *Server) Evaluate(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "expression is required")
	}
	v, err := expr.Evaluate(req.GetValue(), expr.WithMaxDepth(s.opts.MaxDepth))
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Double(v), nil
}

func (s *Server) Run(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	source := req.GetValue()
	if strings.HasPrefix(source, "programs/") {
		p, err := s.store.GetProgram(source)
		if err != nil {
			return nil, toStatus(err)
		}
		source = p.Source
	}

	results, _, err := api.RunSource(ctx, source, s.opts)
	if err != nil {
		return nil, toStatus(err)
	}

	values := make([]*structpb.Value, len(results))
	for i, v := range results {
		values[i] = structpb.NewNumberValue(v)
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *Server) ListPrograms(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	programs := s.store.ListPrograms()
	values := make([]*structpb.Value, len(programs))
	for i, p := range programs {
		values[i] = structpb.NewStringValue(p.Name)
	}
	return &structpb.ListValue{Values: values}, nil
}

// --- Handlers ---

func evaluateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Evaluate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CalculatorServer).Evaluate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Run"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CalculatorServer).Run(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listProgramsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).ListPrograms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListPrograms"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CalculatorServer).ListPrograms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// --- Internal helpers ---

func logUnary(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("took", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

// toStatus maps calculator and store errors onto gRPC status codes. A
// calculator error keeps its kind as the message prefix.
func toStatus(err error) error {
	var ce *types.CalcError
	switch {
	case errors.As(err, &ce):
		return status.Errorf(codes.InvalidArgument, "%s: %s", ce.Kind, ce.Message)
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
