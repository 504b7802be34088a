package api

import (
	"strings"
	"time"

	"quantlab/internal/domain"
	"quantlab/internal/engine"
	"quantlab/pkg/quantlab"
)

func toOptimizeResponse(r *domain.OptimizationResult) quantlab.OptimizeResponse {
	out := quantlab.OptimizeResponse{
		Weights:     make(map[string]float64, len(r.Weights)),
		Return:      r.ExpectedReturn,
		Risk:        r.Volatility,
		SharpeRatio: quantlab.Float(r.SharpeRatio),
		EfficientFrontier: quantlab.Frontier{
			Volatility: make([]float64, len(r.Frontier)),
			Returns:    make([]float64, len(r.Frontier)),
		},
	}
	for sym, w := range r.Weights {
		out.Weights[sym] = w
	}
	for i, p := range r.Frontier {
		out.EfficientFrontier.Volatility[i] = p.Volatility
		out.EfficientFrontier.Returns[i] = p.Return
	}
	return out
}

func toBacktestResponse(r *domain.BacktestResult) quantlab.BacktestResponse {
	m := r.Metrics
	out := quantlab.BacktestResponse{
		Metrics: quantlab.Metrics{
			InitialCapital: m.InitialCapital,
			FinalEquity:    m.FinalEquity,
			TotalReturn:    m.TotalReturn,
			TotalReturnPct: m.TotalReturnPct,
			SharpeRatio:    quantlab.Float(m.SharpeRatio),
			MaxDrawdown:    m.MaxDrawdown,
			MaxDrawdownPct: m.MaxDrawdownPct,
			NumTrades:      m.NumTrades,
			WinningTrades:  m.WinningTrades,
			LosingTrades:   m.LosingTrades,
			WinRate:        m.WinRate,
			AvgWin:         m.AvgWin,
			AvgLoss:        m.AvgLoss,
			ProfitFactor:   quantlab.Float(m.ProfitFactor),
		},
		EquityCurve: make([]quantlab.EquityPoint, len(r.EquityCurve)),
		Trades:      toTrades(r.Trades),
	}
	for i, p := range r.EquityCurve {
		out.EquityCurve[i] = quantlab.EquityPoint{
			Date:          p.Date.Format(quantlab.DateLayout),
			Equity:        p.Equity,
			Cash:          p.Cash,
			PositionValue: p.PositionValue,
		}
	}
	return out
}

func toTrades(trades []domain.Trade) []quantlab.Trade {
	out := make([]quantlab.Trade, len(trades))
	for i, t := range trades {
		out[i] = quantlab.Trade{
			Date:   t.Date.Format(quantlab.DateLayout),
			Type:   string(t.Type),
			Price:  t.Price,
			Shares: t.Shares,
			Value:  t.Value,
			PnL:    t.PnL,
			Reason: t.Reason,
		}
	}
	return out
}

func toStrategy(d domain.StrategyDefinition) quantlab.Strategy {
	s := quantlab.Strategy{
		ID:          d.ID,
		Name:        d.Name,
		Slug:        d.Slug,
		Description: d.Description,
		Rule:        d.Rule,
		IsCustom:    d.IsCustom,
	}
	if !d.CreatedAt.IsZero() {
		s.CreatedAt = d.CreatedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// backtestRequest converts the wire request, filling omitted capital and
// commission from defaults. The end date is inclusive.
func backtestRequest(in quantlab.BacktestRequest, defaults Defaults) (engine.BacktestRequest, error) {
	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return engine.BacktestRequest{}, err
	}
	end, err := parseDate("end_date", in.EndDate)
	if err != nil {
		return engine.BacktestRequest{}, err
	}

	capital := defaults.InitialCapital
	if in.InitialCapital != nil {
		capital = *in.InitialCapital
	}
	commission := defaults.Commission
	if in.Commission != nil {
		commission = *in.Commission
	}

	return engine.BacktestRequest{
		Ticker:         in.Ticker,
		StrategyID:     in.StrategyID,
		Rule:           in.Rule,
		Params:         in.Params,
		StartDate:      start,
		EndDate:        end.AddDate(0, 0, 1).Add(-time.Nanosecond),
		InitialCapital: capital,
		Commission:     commission,
		RiskFreeRate:   in.RiskFreeRate,
	}, nil
}

func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, domain.Validationf("%s is required", field)
	}
	t, err := time.Parse(quantlab.DateLayout, v)
	if err != nil {
		return time.Time{}, domain.Validationf("%s %q is not a YYYY-MM-DD date", field, v)
	}
	return t, nil
}
