package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/domain"
	"quantlab/internal/strategy"
)

var start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func newSim(t *testing.T, capital, commission float64) *Simulator {
	t.Helper()
	s, err := New(Options{InitialCapital: capital, Commission: commission})
	require.NoError(t, err)
	return s
}

func ruleRuntime(t *testing.T, src string, total int) *strategy.Runtime {
	t.Helper()
	r, err := strategy.Compile("test", src, 0)
	require.NoError(t, err)
	rt, err := r.NewRuntime(strategy.RuntimeOptions{TotalBars: total})
	require.NoError(t, err)
	return rt
}

// buyThenSell buys on bar 0 and sells on bar 10.
var buyThenSell = strategy.Func(func(_ context.Context, v *strategy.View, _ strategy.Account) (domain.Decision, error) {
	switch v.Index() {
	case 0:
		return domain.Decision{Action: domain.ActionBuy}, nil
	case 10:
		return domain.Decision{Action: domain.ActionSell}, nil
	}
	return domain.Hold, nil
})

func roundTripCloses() []float64 {
	closes := flat(15, 105)
	closes[0] = 100
	closes[10] = 110
	return closes
}

func assertRoundTrip(t *testing.T, res *domain.BacktestResult) {
	t.Helper()
	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.TradeBuy, res.Trades[0].Type)
	assert.Equal(t, int64(100), res.Trades[0].Shares)
	assert.Equal(t, 100.0, res.Trades[0].Price)
	assert.Equal(t, domain.TradeSell, res.Trades[1].Type)
	assert.Equal(t, 110.0, res.Trades[1].Price)
	assert.Equal(t, 1000.0, res.Trades[1].PnL)

	last := res.EquityCurve[len(res.EquityCurve)-1]
	assert.Equal(t, 11000.0, last.Cash)
	assert.Zero(t, last.PositionValue)

	m := res.Metrics
	assert.InDelta(t, 0.10, m.TotalReturn, 1e-12)
	assert.InDelta(t, 10.0, m.TotalReturnPct, 1e-9)
	assert.Equal(t, 1, m.NumTrades)
	assert.Equal(t, 100.0, m.WinRate)
}

func TestBuyHundredSellAtTen(t *testing.T) {
	s := newSim(t, 10000, 0)
	res, err := s.Run(context.Background(), barsFromCloses(roundTripCloses()...), buyThenSell)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State())
	assertRoundTrip(t, res)
}

func TestRoundTripWithRule(t *testing.T) {
	bars := barsFromCloses(roundTripCloses()...)
	rt := ruleRuntime(t, "buy: bar_index == 0\nsell: bar_index == 10", len(bars))

	res, err := newSim(t, 10000, 0).Run(context.Background(), bars, rt)
	require.NoError(t, err)
	assertRoundTrip(t, res)
}

func TestAlwaysHold(t *testing.T) {
	bars := barsFromCloses(100, 101, 99, 103, 102)
	res, err := newSim(t, 5000, 0.001).Run(context.Background(), bars, ruleRuntime(t, `signal: '"HOLD"'`, len(bars)))
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.EquityCurve, len(bars))
	for _, p := range res.EquityCurve {
		assert.Equal(t, 5000.0, p.Equity)
	}
	assert.Zero(t, res.Metrics.TotalReturn)
	assert.Zero(t, res.Metrics.SharpeRatio)
	assert.Zero(t, res.Metrics.MaxDrawdown)
}

func TestEquityIdentityAndDates(t *testing.T) {
	closes := []float64{100, 98, 103, 107, 101, 95, 99, 104, 110, 108}
	bars := barsFromCloses(closes...)
	rt := ruleRuntime(t, "buy: close < 100\nsell: close > 105", len(bars))

	res, err := newSim(t, 10000, 0.002).Run(context.Background(), bars, rt)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	require.Len(t, res.EquityCurve, len(bars))

	for i, p := range res.EquityCurve {
		assert.Equal(t, bars[i].Date(), p.Date)
		assert.InDelta(t, p.Cash+p.PositionValue, p.Equity, 1e-9)
		assert.GreaterOrEqual(t, p.Cash, 0.0)
	}
	for i := 1; i < len(res.Trades); i++ {
		assert.NotEqual(t, res.Trades[i-1].Type, res.Trades[i].Type, "trades alternate")
		assert.False(t, res.Trades[i].Date.Before(res.Trades[i-1].Date))
	}
}

func TestInsufficientFundsIsNoop(t *testing.T) {
	bars := barsFromCloses(100, 100, 100)
	res, err := newSim(t, 50, 0).Run(context.Background(), bars, ruleRuntime(t, "buy: true", len(bars)))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 50.0, res.Metrics.FinalEquity)
}

func TestNoLiquidationOnLastBar(t *testing.T) {
	bars := barsFromCloses(100, 110)
	res, err := newSim(t, 1000, 0).Run(context.Background(), bars, ruleRuntime(t, "buy: true", len(bars)))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 1100.0, res.Metrics.FinalEquity)
	assert.Zero(t, res.Metrics.NumTrades)
}

func TestStopLossExit(t *testing.T) {
	bars := barsFromCloses(100, 100, 100)
	bars[1].Low = 94

	rt := ruleRuntime(t, "buy: position == 0 && bar_index == 0\nstop_loss_pct: 0.05", len(bars))
	res, err := newSim(t, 10000, 0).Run(context.Background(), bars, rt)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	sell := res.Trades[1]
	assert.Equal(t, domain.ExitReasonStopLoss, sell.Reason)
	assert.Equal(t, 95.0, sell.Price)
	assert.Equal(t, bars[1].Date(), sell.Date)
	assert.Equal(t, -500.0, sell.PnL)
	assert.Equal(t, 9500.0, res.EquityCurve[1].Equity)
}

func TestEntryPriceStopArmsOnEntryBar(t *testing.T) {
	bars := barsFromCloses(100, 100, 100)
	bars[1].Low = 90

	rt := ruleRuntime(t, "buy: bar_index == 0\nstop_loss: entry_price * 0.95", len(bars))
	res, err := newSim(t, 10000, 0).Run(context.Background(), bars, rt)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	sell := res.Trades[1]
	assert.Equal(t, domain.ExitReasonStopLoss, sell.Reason)
	assert.Equal(t, 95.0, sell.Price)
	assert.Equal(t, bars[1].Date(), sell.Date)
}

func TestFlatPricesHaveNoDrawdown(t *testing.T) {
	bars := barsFromCloses(flat(20, 100)...)
	rt := ruleRuntime(t, "buy: bar_index == 2\nsell: bar_index == 10", len(bars))

	res, err := newSim(t, 10000, 0).Run(context.Background(), bars, rt)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Zero(t, res.Metrics.MaxDrawdown)
	assert.Zero(t, res.Metrics.TotalReturn)

	// Commission is a real loss, so a traded flat series draws down.
	res, err = newSim(t, 10000, 0.001).Run(context.Background(), bars, ruleRuntime(t, "buy: bar_index == 2\nsell: bar_index == 10", len(bars)))
	require.NoError(t, err)
	assert.Greater(t, res.Metrics.MaxDrawdown, 0.0)
}

func TestTakeProfitExit(t *testing.T) {
	bars := barsFromCloses(100, 100, 100)
	bars[2].High = 112

	rt := ruleRuntime(t, "buy: position == 0 && bar_index == 0\ntake_profit_pct: 0.10", len(bars))
	res, err := newSim(t, 10000, 0).Run(context.Background(), bars, rt)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.ExitReasonTakeProfit, res.Trades[1].Reason)
	assert.Equal(t, 110.0, res.Trades[1].Price)
	assert.True(t, res.Metrics.ProfitFactor > 1e300)
}

func TestStopLossWinsWhenBothBreached(t *testing.T) {
	bars := barsFromCloses(100, 100)
	bars[1].Low = 90
	bars[1].High = 115

	rt := ruleRuntime(t, "buy: bar_index == 0\nstop_loss_pct: 0.05\ntake_profit_pct: 0.10", len(bars))
	res, err := newSim(t, 10000, 0).Run(context.Background(), bars, rt)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.ExitReasonStopLoss, res.Trades[1].Reason)
}

func TestExcessiveRuleFailuresFailRun(t *testing.T) {
	bars := barsFromCloses(flat(252, 100)...)
	rt := ruleRuntime(t, `buy: prev("close", 1000) > 0`, len(bars))

	s := newSim(t, 10000, 0)
	res, err := s.Run(context.Background(), bars, rt)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrStrategyRuntime)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 126, re.Bar)
	assert.Empty(t, re.Trades)
	assert.Equal(t, StateFailed, s.State())
}

func TestSecurityViolationIsFatal(t *testing.T) {
	bars := barsFromCloses(100, 101, 102)
	strat := strategy.Func(func(_ context.Context, v *strategy.View, _ strategy.Account) (domain.Decision, error) {
		if v.Index() == 0 {
			return domain.Decision{Action: domain.ActionBuy}, nil
		}
		_, err := v.Prev("close", -1)
		return domain.Hold, err
	})

	_, err := newSim(t, 1000, 0).Run(context.Background(), bars, strat)
	assert.ErrorIs(t, err, domain.ErrSecurityViolation)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 1, re.Bar)
	require.Len(t, re.Trades, 1, "partial trade log is kept")
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newSim(t, 1000, 0)
	_, err := s.Run(ctx, barsFromCloses(100, 101), buyThenSell)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
}

func TestSimulatorRunsOnce(t *testing.T) {
	s := newSim(t, 1000, 0)
	bars := barsFromCloses(100, 101)
	_, err := s.Run(context.Background(), bars, buyThenSell)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), bars, buyThenSell)
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestInvalidBarsFailRun(t *testing.T) {
	s := newSim(t, 1000, 0)
	_, err := s.Run(context.Background(), nil, buyThenSell)
	assert.ErrorIs(t, err, domain.ErrData)
	assert.Equal(t, StateFailed, s.State())
}

func TestOptionsValidate(t *testing.T) {
	for _, opts := range []Options{
		{InitialCapital: 0},
		{InitialCapital: -5},
		{InitialCapital: 100, Commission: -0.1},
		{InitialCapital: 100, Commission: 1},
	} {
		_, err := New(opts)
		assert.ErrorIs(t, err, domain.ErrValidation, "%+v", opts)
	}
	_, err := New(Options{InitialCapital: 100, Commission: 0.999})
	assert.NoError(t, err)
}

func TestWarmupBarsAreHistoryOnly(t *testing.T) {
	bars := barsFromCloses(90, 95, 100, 105, 110)
	from := bars[2].Timestamp

	var seen []int
	strat := strategy.Func(func(_ context.Context, v *strategy.View, _ strategy.Account) (domain.Decision, error) {
		seen = append(seen, v.Index())
		if v.Index() == 2 {
			assert.Equal(t, 95.0, v.Bars()[1].Close, "warm-up bars are visible history")
			return domain.Decision{Action: domain.ActionBuy}, nil
		}
		return domain.Hold, nil
	})

	s, err := New(Options{InitialCapital: 1000, TradeFrom: from})
	require.NoError(t, err)
	res, err := s.Run(context.Background(), bars, strat)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4}, seen)
	require.Len(t, res.EquityCurve, 3)
	assert.Equal(t, bars[2].Date(), res.EquityCurve[0].Date)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 100.0, res.Trades[0].Price)
	assert.InDelta(t, 0.10, res.Metrics.TotalReturn, 1e-12)
}

func TestTradeFromAfterLastBar(t *testing.T) {
	bars := barsFromCloses(100, 101)
	s, err := New(Options{InitialCapital: 1000, TradeFrom: bars[1].Timestamp.AddDate(0, 0, 1)})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), bars, buyThenSell)
	assert.ErrorIs(t, err, domain.ErrData)
	assert.Equal(t, 1, FirstTradedBar(bars, bars[1].Timestamp))
	assert.Equal(t, 0, FirstTradedBar(bars, time.Time{}))
}
