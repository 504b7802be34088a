package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"quantlab/internal/engine"
	"quantlab/pkg/quantlab"
)

// QuantServiceName is the fully qualified gRPC service name.
const QuantServiceName = "quantlab.v1.QuantService"

// QuantServiceServer is the gRPC surface of the engine. Messages are
// google.protobuf.Struct values carrying the same JSON documents as the
// HTTP API.
type QuantServiceServer interface {
	Optimize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Backtest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ QuantServiceServer = (*quantService)(nil)

// quantServiceDesc is registered by hand; the service has no generated stubs.
var quantServiceDesc = grpc.ServiceDesc{
	ServiceName: QuantServiceName,
	HandlerType: (*QuantServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Optimize", Handler: unary("Optimize", QuantServiceServer.Optimize)},
		{MethodName: "Backtest", Handler: unary("Backtest", QuantServiceServer.Backtest)},
		{MethodName: "ListStrategies", Handler: unary("ListStrategies", QuantServiceServer.ListStrategies)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quantlab/v1/quant.proto",
}

func unary(method string, call func(QuantServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + QuantServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(QuantServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(QuantServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterGRPC registers the quant service and the standard health service
// on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&quantServiceDesc, &quantService{s: s})

	hs := health.NewServer()
	hs.SetServingStatus(QuantServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
}

type quantService struct {
	s *Server
}

func (q *quantService) Optimize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req quantlab.OptimizeRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := q.s.engine.Optimize(ctx, engine.OptimizeRequest{
		Tickers:      req.Tickers,
		RiskFreeRate: req.RiskFreeRate,
	})
	if err != nil {
		return nil, q.status("Optimize", err)
	}
	return toStruct(toOptimizeResponse(res))
}

func (q *quantService) Backtest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req quantlab.BacktestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	breq, err := backtestRequest(req, q.s.defaults)
	if err != nil {
		return nil, q.status("Backtest", err)
	}
	res, err := q.s.engine.Backtest(ctx, breq)
	if err != nil {
		return nil, q.status("Backtest", err)
	}
	return toStruct(toBacktestResponse(res))
}

func (q *quantService) ListStrategies(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	defs, err := q.s.engine.Catalog().List(ctx)
	if err != nil {
		return nil, q.status("ListStrategies", err)
	}
	out := quantlab.StrategyList{Strategies: make([]quantlab.Strategy, len(defs))}
	for i, d := range defs {
		out.Strategies[i] = toStrategy(d)
	}
	return toStruct(out)
}

// status converts an engine error into a gRPC status whose single detail is
// the ErrorResponse document.
func (q *quantService) status(method string, err error) error {
	body, _ := errorResponse(err)
	_, _, code := classify(err)
	if code == codes.Internal {
		q.s.log.Error("grpc request failed", "method", method, "error", err)
	} else {
		q.s.log.Info("grpc request rejected", "method", method, "kind", body.Kind, "error", err)
	}

	st := status.New(code, body.Error)
	detail, derr := toStruct(body)
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// QuantServiceClient calls the quant service over a gRPC connection.
type QuantServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewQuantServiceClient creates a client on cc.
func NewQuantServiceClient(cc grpc.ClientConnInterface) *QuantServiceClient {
	return &QuantServiceClient{cc: cc}
}

// Optimize runs a portfolio optimisation.
func (c *QuantServiceClient) Optimize(ctx context.Context, req quantlab.OptimizeRequest) (*quantlab.OptimizeResponse, error) {
	var out quantlab.OptimizeResponse
	if err := c.invoke(ctx, "Optimize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Backtest runs a backtest.
func (c *QuantServiceClient) Backtest(ctx context.Context, req quantlab.BacktestRequest) (*quantlab.BacktestResponse, error) {
	var out quantlab.BacktestResponse
	if err := c.invoke(ctx, "Backtest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStrategies lists the strategy catalog.
func (c *QuantServiceClient) ListStrategies(ctx context.Context) (*quantlab.StrategyList, error) {
	var out quantlab.StrategyList
	if err := c.invoke(ctx, "ListStrategies", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *QuantServiceClient) invoke(ctx context.Context, method string, req, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+QuantServiceName+"/"+method, in, resp); err != nil {
		return err
	}
	b, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

// ErrorDetails extracts the ErrorResponse attached to a gRPC error.
func ErrorDetails(err error) (quantlab.ErrorResponse, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return quantlab.ErrorResponse{}, false
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		b, err := protojson.Marshal(s)
		if err != nil {
			continue
		}
		var out quantlab.ErrorResponse
		if err := json.Unmarshal(b, &out); err == nil {
			return out, true
		}
	}
	return quantlab.ErrorResponse{}, false
}

