package engine

import (
	"math"
	"strings"
	"time"

	"quantlab/internal/backtest"
	"quantlab/internal/domain"
	"quantlab/internal/optimizer"
)

// OptimizeRequest asks for the frontier and maximum-Sharpe allocation of a
// basket of tickers.
type OptimizeRequest struct {
	Tickers      []string
	RiskFreeRate float64
}

// Validate checks the request before any data is fetched.
func (r OptimizeRequest) Validate() error {
	return optimizer.ValidateRequest(r.Tickers, r.RiskFreeRate)
}

// BacktestRequest asks for a backtest of one strategy on one ticker.
// Exactly one of StrategyID and Rule must be set.
type BacktestRequest struct {
	Ticker         string
	StrategyID     string
	Rule           string
	Params         map[string]float64
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	Commission     float64
	RiskFreeRate   float64
}

// Validate checks the request before any rule is compiled or data fetched.
func (r BacktestRequest) Validate() error {
	if strings.TrimSpace(r.Ticker) == "" {
		return domain.Validationf("ticker is required")
	}
	hasID := strings.TrimSpace(r.StrategyID) != ""
	hasRule := strings.TrimSpace(r.Rule) != ""
	switch {
	case hasID && hasRule:
		return domain.Validationf("set either strategy_id or rule, not both")
	case !hasID && !hasRule:
		return domain.Validationf("strategy_id or rule is required")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return domain.Validationf("start_date and end_date are required")
	}
	if !r.StartDate.Before(r.EndDate) {
		return domain.Validationf("start_date %s must be before end_date %s",
			r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly))
	}
	if math.IsNaN(r.RiskFreeRate) || math.IsInf(r.RiskFreeRate, 0) {
		return domain.Validationf("risk-free rate must be a finite number")
	}
	for name, v := range r.Params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Validationf("param %q must be a finite number", name)
		}
	}
	return backtest.Options{InitialCapital: r.InitialCapital, Commission: r.Commission}.Validate()
}
