package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/backtest"
	"quantlab/internal/catalog"
	"quantlab/internal/domain"
	"quantlab/internal/marketdata"
	"quantlab/internal/optimizer"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
)

var (
	start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	today = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
)

func weekdays(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := from; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func barsFromCloses(symbol string, from time.Time, closes []float64) []domain.Bar {
	dates := weekdays(from, len(closes))
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: dates[i], Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return bars
}

func synthetic(symbol string, from time.Time, n int, drift, amp, freq, phase float64) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		x := float64(i)
		closes[i] = 100 * math.Exp(drift*x+amp*math.Sin(freq*x+phase))
	}
	return barsFromCloses(symbol, from, closes)
}

func newEngine(t *testing.T, p marketdata.Provider, opts Options) *Engine {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat := catalog.New(strategy.DefaultRegistry(), st, 0, nil)
	e := NewEngine(p, optimizer.New(optimizer.DefaultConfig(), nil), cat, opts, nil)
	e.now = func() time.Time { return today }
	return e
}

func roundTripCloses() []float64 {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 105
	}
	closes[0], closes[10] = 100, 110
	return closes
}

// ---------------------------------------------------------------------------
// Optimize
// ---------------------------------------------------------------------------

func TestOptimizeSingleTickerFailsBeforeFetching(t *testing.T) {
	p := marketdata.NewStatic(nil)
	e := newEngine(t, p, Options{})

	_, err := e.Optimize(context.Background(), OptimizeRequest{Tickers: []string{"AAPL"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, p.Calls())
}

func TestOptimize(t *testing.T) {
	from := today.AddDate(0, 0, -365)
	p := marketdata.NewStatic(map[string][]domain.Bar{
		"AAA": synthetic("AAA", from, 250, 0.0008, 0.05, 0.11, 0),
		"BBB": synthetic("BBB", from, 250, 0.0004, 0.03, 0.07, 1.3),
		"CCC": synthetic("CCC", from, 250, 0.0002, 0.02, 0.05, 2.1),
	})
	e := newEngine(t, p, Options{})

	res, err := e.Optimize(context.Background(), OptimizeRequest{
		Tickers:      []string{"aaa", "BBB", " ccc "},
		RiskFreeRate: 0.02,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Weights.Sum(), 1e-6)
	for sym, w := range res.Weights {
		assert.Contains(t, []string{"AAA", "BBB", "CCC"}, sym)
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, 1.0)
	}
	require.NotEmpty(t, res.Frontier)
	for i := 1; i < len(res.Frontier); i++ {
		assert.GreaterOrEqual(t, res.Frontier[i].Volatility, res.Frontier[i-1].Volatility)
	}
}

func TestOptimizeUnknownTicker(t *testing.T) {
	p := marketdata.NewStatic(map[string][]domain.Bar{
		"AAA": synthetic("AAA", today.AddDate(0, 0, -300), 200, 0.001, 0.05, 0.1, 0),
	})
	e := newEngine(t, p, Options{})

	_, err := e.Optimize(context.Background(), OptimizeRequest{Tickers: []string{"AAA", "ZZZ"}})
	assert.ErrorIs(t, err, domain.ErrData)
}

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

func backtestRequest(rule string) BacktestRequest {
	return BacktestRequest{
		Ticker:         "TEST",
		Rule:           rule,
		StartDate:      start,
		EndDate:        start.AddDate(1, 0, 0),
		InitialCapital: 10000,
	}
}

func TestBacktestRoundTrip(t *testing.T) {
	p := marketdata.NewStatic(map[string][]domain.Bar{"TEST": barsFromCloses("TEST", start, roundTripCloses())})
	e := newEngine(t, p, Options{WarmupBars: 60})

	res, err := e.Backtest(context.Background(), backtestRequest("buy: bar_index == 0\nsell: bar_index == 10"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(100), res.Trades[0].Shares)
	last := res.EquityCurve[len(res.EquityCurve)-1]
	assert.Equal(t, 11000.0, last.Cash)
	assert.InDelta(t, 10.0, res.Metrics.TotalReturnPct, 1e-9)
	assert.Equal(t, 1, res.Metrics.NumTrades)
	assert.Equal(t, 100.0, res.Metrics.WinRate)
}

func TestBacktestBuiltinStrategy(t *testing.T) {
	bars := synthetic("TEST", start.AddDate(0, -4, 0), 330, 0.0005, 0.08, 0.09, 0)
	p := marketdata.NewStatic(map[string][]domain.Bar{"TEST": bars})
	e := newEngine(t, p, Options{WarmupBars: 60})

	req := backtestRequest("")
	req.StrategyID = "moving_average_crossover"
	req.Commission = 0.001

	res, err := e.Backtest(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.EquityCurve)
	assert.False(t, res.EquityCurve[0].Date.Before(start), "warm-up bars are not simulated")
	for _, pt := range res.EquityCurve {
		assert.InDelta(t, pt.Cash+pt.PositionValue, pt.Equity, 1e-6)
	}
	assert.NotEmpty(t, res.Trades)
}

func TestBacktestFailsFastWithoutFetching(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BacktestRequest)
		want   error
	}{
		{"zero capital", func(r *BacktestRequest) { r.InitialCapital = 0 }, domain.ErrValidation},
		{"commission of one", func(r *BacktestRequest) { r.Commission = 1 }, domain.ErrValidation},
		{"reversed dates", func(r *BacktestRequest) { r.EndDate = r.StartDate.AddDate(0, 0, -1) }, domain.ErrValidation},
		{"no ticker", func(r *BacktestRequest) { r.Ticker = " " }, domain.ErrValidation},
		{"both rule and id", func(r *BacktestRequest) { r.StrategyID = "blank" }, domain.ErrValidation},
		{"malformed rule", func(r *BacktestRequest) { r.Rule = "buy: close >" }, domain.ErrCompile},
		{"sandbox breach", func(r *BacktestRequest) { r.Rule = "buy: $env != nil" }, domain.ErrSecurityViolation},
		{"unknown param", func(r *BacktestRequest) { r.Params = map[string]float64{"nope": 1} }, domain.ErrValidation},
		{"unknown strategy", func(r *BacktestRequest) { r.Rule = ""; r.StrategyID = "missing" }, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := marketdata.NewStatic(map[string][]domain.Bar{"TEST": barsFromCloses("TEST", start, roundTripCloses())})
			e := newEngine(t, p, Options{})

			req := backtestRequest("buy: true")
			tt.mutate(&req)
			_, err := e.Backtest(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, p.Calls())
		})
	}
}

func TestBacktestExcessiveFailures(t *testing.T) {
	closes := make([]float64, 252)
	for i := range closes {
		closes[i] = 100
	}
	p := marketdata.NewStatic(map[string][]domain.Bar{"TEST": barsFromCloses("TEST", start, closes)})
	e := newEngine(t, p, Options{})

	res, err := e.Backtest(context.Background(), backtestRequest(`buy: prev("close", 1000) > 0`))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrStrategyRuntime)

	var re *backtest.RunError
	assert.True(t, errors.As(err, &re))
}

func TestBacktestNoBarsInRange(t *testing.T) {
	p := marketdata.NewStatic(map[string][]domain.Bar{"TEST": barsFromCloses("TEST", start.AddDate(-1, 0, 0), roundTripCloses())})
	e := newEngine(t, p, Options{})

	_, err := e.Backtest(context.Background(), backtestRequest("buy: true"))
	assert.ErrorIs(t, err, domain.ErrData)
}

// blocking never returns before its context ends.
type blocking struct{}

func (blocking) Name() string { return "blocking" }

func (blocking) DailyBars(ctx context.Context, _ string, _, _ time.Time) ([]domain.Bar, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRequestTimeout(t *testing.T) {
	e := newEngine(t, blocking{}, Options{RequestTimeout: 20 * time.Millisecond})

	_, err := e.Backtest(context.Background(), backtestRequest("buy: true"))
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = e.Optimize(context.Background(), OptimizeRequest{Tickers: []string{"A", "B"}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWarmupDays(t *testing.T) {
	assert.Zero(t, warmupDays(0))
	assert.Equal(t, 91, warmupDays(60))
}
