package api

import (
	"context"
	"math"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"quantlab/pkg/quantlab"
)

func dialBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return cc
}

func TestGRPCHealth(t *testing.T) {
	cc := dialBufconn(t, newTestServer(t, fixtures()))
	resp, err := healthpb.NewHealthClient(cc).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: QuantServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCBacktest(t *testing.T) {
	client := NewQuantServiceClient(dialBufconn(t, newTestServer(t, fixtures())))

	res, err := client.Backtest(context.Background(), quantlab.BacktestRequest{
		Ticker:    "TEST",
		Rule:      "buy: bar_index == 0\nsell: bar_index == 10",
		StartDate: "2024-01-02",
		EndDate:   "2024-12-31",
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(100), res.Trades[0].Shares)
	assert.InDelta(t, 11000.0, res.Metrics.FinalEquity, 1e-9)
	assert.True(t, math.IsInf(float64(res.Metrics.ProfitFactor), 1))
}

func TestGRPCOptimize(t *testing.T) {
	client := NewQuantServiceClient(dialBufconn(t, newTestServer(t, fixtures())))

	res, err := client.Optimize(context.Background(), quantlab.OptimizeRequest{
		Tickers:      []string{"AAA", "BBB"},
		RiskFreeRate: 0.01,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Weights["AAA"]+res.Weights["BBB"], 1e-6)
}

func TestGRPCListStrategies(t *testing.T) {
	client := NewQuantServiceClient(dialBufconn(t, newTestServer(t, fixtures())))

	res, err := client.ListStrategies(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, s := range res.Strategies {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "moving_average_crossover")
}

func TestGRPCErrorCarriesDetails(t *testing.T) {
	p := fixtures()
	client := NewQuantServiceClient(dialBufconn(t, newTestServer(t, p)))

	_, err := client.Optimize(context.Background(), quantlab.OptimizeRequest{Tickers: []string{"AAA"}})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	details, ok := ErrorDetails(err)
	require.True(t, ok)
	assert.Equal(t, quantlab.KindValidation, details.Kind)
	assert.Zero(t, p.Calls())

	_, err = client.Backtest(context.Background(), quantlab.BacktestRequest{
		Ticker:     "TEST",
		StrategyID: "missing",
		StartDate:  "2024-01-02",
		EndDate:    "2024-12-31",
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
