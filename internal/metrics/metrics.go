// Package metrics derives summary statistics from a completed backtest: total
// return, Sharpe ratio, maximum drawdown and round-trip trade statistics.
package metrics

import (
	"math"

	"github.com/montanaflynn/stats"

	"quantlab/internal/domain"
)

// RoundTrip is a BUY matched with the SELL that closed it.
type RoundTrip struct {
	Buy  domain.Trade
	Sell domain.Trade
	PnL  float64
}

// Compute returns the metrics of a run. riskFree is the annual risk-free
// rate used for the Sharpe ratio.
func Compute(initialCapital float64, curve []domain.EquityPoint, trades []domain.Trade, riskFree float64) domain.Metrics {
	m := domain.Metrics{
		InitialCapital: initialCapital,
		FinalEquity:    initialCapital,
	}
	if n := len(curve); n > 0 {
		m.FinalEquity = curve[n-1].Equity
	}
	if initialCapital > 0 {
		m.TotalReturn = (m.FinalEquity - initialCapital) / initialCapital
	}
	m.TotalReturnPct = m.TotalReturn * 100

	m.SharpeRatio = SharpeRatio(DailyReturns(curve), riskFree)
	m.MaxDrawdown = MaxDrawdown(curve)
	m.MaxDrawdownPct = m.MaxDrawdown * 100

	trips := RoundTrips(trades)
	m.NumTrades = len(trips)

	var grossProfit, grossLoss float64
	for _, rt := range trips {
		switch {
		case rt.PnL > 0:
			m.WinningTrades++
			grossProfit += rt.PnL
		case rt.PnL < 0:
			m.LosingTrades++
			grossLoss += -rt.PnL
		}
	}

	if m.NumTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.NumTrades) * 100
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	m.ProfitFactor = ProfitFactor(grossProfit, grossLoss)
	return m
}

// DailyReturns returns the percentage change between consecutive equity
// points.
func DailyReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// SharpeRatio returns the annualised Sharpe ratio of daily returns against
// an annual risk-free rate. It is 0 when there are fewer than two returns or
// the returns do not vary.
func SharpeRatio(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	excess := mean - riskFree/domain.TradingDaysPerYear
	return excess / sd * math.Sqrt(domain.TradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline of equity as a
// positive fraction of the running peak.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	var peak, worst float64
	for i, p := range curve {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// RoundTrips pairs each BUY with the next SELL. A BUY followed by another
// BUY is discarded, as is a SELL with no open BUY.
func RoundTrips(trades []domain.Trade) []RoundTrip {
	var out []RoundTrip
	var open *domain.Trade
	for i := range trades {
		t := trades[i]
		switch t.Type {
		case domain.TradeBuy:
			open = &trades[i]
		case domain.TradeSell:
			if open == nil {
				continue
			}
			out = append(out, RoundTrip{Buy: *open, Sell: t, PnL: t.Value - open.Value})
			open = nil
		}
	}
	return out
}

// ProfitFactor returns gross profit over gross loss. With no losses it is
// +Inf when there was any profit and 0 otherwise.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}
