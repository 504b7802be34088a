package quantlab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DateLayout is the wire format of every date field.
const DateLayout = "2006-01-02"

// Float is a JSON number that also round-trips infinities, encoded as the
// strings "Infinity" and "-Infinity". NaN is encoded as null.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(v):
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "null":
		*f = Float(math.NaN())
		return nil
	case `"Infinity"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*f = Float(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("quantlab: invalid float %s", b)
	}
	*f = Float(v)
	return nil
}

// ---------------------------------------------------------------------------
// Optimization
// ---------------------------------------------------------------------------

// OptimizeRequest is the body of POST /api/optimize.
type OptimizeRequest struct {
	Tickers      []string `json:"tickers"`
	RiskFreeRate float64  `json:"risk_free_rate"`
}

// Frontier holds the efficient frontier as two parallel lists, ascending by
// volatility.
type Frontier struct {
	Volatility []float64 `json:"volatility"`
	Returns    []float64 `json:"returns"`
}

// OptimizeResponse is the maximum-Sharpe allocation and the frontier.
type OptimizeResponse struct {
	Weights           map[string]float64 `json:"weights"`
	Return            float64            `json:"return"`
	Risk              float64            `json:"risk"`
	SharpeRatio       Float              `json:"sharpe_ratio"`
	EfficientFrontier Frontier           `json:"efficient_frontier"`
}

// ---------------------------------------------------------------------------
// Backtesting
// ---------------------------------------------------------------------------

// BacktestRequest is the body of POST /api/backtest. Exactly one of
// StrategyID and Rule is set. Omitted InitialCapital and Commission take the
// server defaults.
type BacktestRequest struct {
	Ticker         string             `json:"ticker"`
	StrategyID     string             `json:"strategy_id,omitempty"`
	Rule           string             `json:"rule,omitempty"`
	Params         map[string]float64 `json:"params,omitempty"`
	StartDate      string             `json:"start_date"`
	EndDate        string             `json:"end_date"`
	InitialCapital *float64           `json:"initial_capital,omitempty"`
	Commission     *float64           `json:"commission,omitempty"`
	RiskFreeRate   float64            `json:"risk_free_rate,omitempty"`
}

// Metrics is the statistics block of a completed backtest.
type Metrics struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    Float   `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	NumTrades      int     `json:"num_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	ProfitFactor   Float   `json:"profit_factor"`
}

// EquityPoint is one point of the equity curve.
type EquityPoint struct {
	Date          string  `json:"date"`
	Equity        float64 `json:"equity"`
	Cash          float64 `json:"cash"`
	PositionValue float64 `json:"position_value"`
}

// Trade is one simulated fill.
type Trade struct {
	Date   string  `json:"date"`
	Type   string  `json:"type"`
	Price  float64 `json:"price"`
	Shares int64   `json:"shares"`
	Value  float64 `json:"value"`
	PnL    float64 `json:"pnl,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// BacktestResponse is the result of a completed backtest.
type BacktestResponse struct {
	Metrics     Metrics       `json:"metrics"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Trades      []Trade       `json:"trades"`
}

// ---------------------------------------------------------------------------
// Strategy catalog
// ---------------------------------------------------------------------------

// Strategy is a strategy definition.
type Strategy struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description"`
	Rule        string `json:"rule"`
	IsCustom    bool   `json:"is_custom"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// StrategyList is the body of GET /api/strategies.
type StrategyList struct {
	Strategies []Strategy `json:"strategies"`
}

// CreateStrategyRequest is the body of POST /api/strategies.
type CreateStrategyRequest struct {
	Name        string `json:"name"`
	Rule        string `json:"rule"`
	Description string `json:"description,omitempty"`
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error kinds reported in ErrorResponse.Kind.
const (
	KindValidation      = "validation"
	KindData            = "data"
	KindOptimization    = "optimization"
	KindCompile         = "compile"
	KindSecurity        = "security_violation"
	KindStrategyRuntime = "strategy_runtime"
	KindNotFound        = "not_found"
	KindReadOnly        = "read_only"
	KindTimeout         = "timeout"
	KindInternal        = "internal"
)

// ErrorResponse is the body of every non-2xx response. Diagnostics carries
// the best allocation found by a failed optimization; Trades carries the
// partial trade log of a failed backtest.
type ErrorResponse struct {
	Error       string            `json:"error"`
	Kind        string            `json:"kind"`
	Iterations  int               `json:"iterations,omitempty"`
	Diagnostics *OptimizeResponse `json:"diagnostics,omitempty"`
	Trades      []Trade           `json:"trades,omitempty"`
}
