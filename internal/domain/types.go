// Package domain defines the shared numeric data model used by the portfolio
// optimizer and the backtest simulator: price bars, return series, trades,
// equity points and the result types handed across package boundaries.
package domain

import (
	"time"
)

// TradingDaysPerYear is the annualisation factor applied to daily statistics.
const TradingDaysPerYear = 252

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single daily OHLCV bar. Bars are ordered by Timestamp, one per
// symbol per trading day, and are never modified once fetched.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Date returns the bar's calendar date in UTC, truncated to midnight.
func (b Bar) Date() time.Time {
	t := b.Timestamp.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PriceSeries is the ordered bar history of one symbol.
type PriceSeries struct {
	Symbol string
	Bars   []Bar
}

// ReturnSeries holds daily percentage returns for one symbol. Returns[i] is
// the change from Dates[i] to Dates[i+1]'s close, so len(Returns) is one less
// than the number of bars it was derived from.
type ReturnSeries struct {
	Symbol  string
	Dates   []time.Time
	Returns []float64
}

// ---------------------------------------------------------------------------
// Portfolio optimisation
// ---------------------------------------------------------------------------

// PortfolioWeights maps symbol to portfolio fraction. Long-only weights lie
// in [0,1] and sum to 1.
type PortfolioWeights map[string]float64

// Sum returns the total of all weights.
func (w PortfolioWeights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// FrontierPoint is one (volatility, return) pair on the efficient frontier.
type FrontierPoint struct {
	Volatility float64
	Return     float64
}

// OptimizationResult is the outcome of a portfolio optimisation request.
// Frontier is sorted ascending by Volatility.
type OptimizationResult struct {
	Weights        PortfolioWeights
	ExpectedReturn float64
	Volatility     float64
	SharpeRatio    float64
	Frontier       []FrontierPoint
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// StrategyDefinition is a named trading rule. Built-in definitions are read
// only; custom ones are created, saved and deleted through the catalog.
type StrategyDefinition struct {
	ID          string
	Name        string
	Slug        string
	Rule        string
	Description string
	IsCustom    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Action is the per-bar decision returned by a strategy.
type Action string

// Action constants.
const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Decision is a strategy's output for one bar. StopLoss and TakeProfit are
// absolute price thresholds; zero leaves the current threshold unchanged.
type Decision struct {
	Action     Action
	StopLoss   float64
	TakeProfit float64
}

// Hold is the zero-effect decision.
var Hold = Decision{Action: ActionHold}

// ---------------------------------------------------------------------------
// Backtesting
// ---------------------------------------------------------------------------

// TradeType is the side of a simulated trade.
type TradeType string

// TradeType constants.
const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Exit reasons recorded on SELL trades.
const (
	ExitReasonSignal     = "signal"
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
)

// Trade is one simulated fill. Value is the cash that left the account for a
// BUY (commission included) or entered it for a SELL (commission deducted).
// PnL is set on SELL trades only and holds the realised profit of the round
// trip it closes.
type Trade struct {
	Date   time.Time
	Type   TradeType
	Price  float64
	Shares int64
	Value  float64
	PnL    float64
	Reason string
}

// EquityPoint is the account snapshot after one simulated bar.
type EquityPoint struct {
	Date          time.Time
	Cash          float64
	PositionValue float64
	Equity        float64
}

// Metrics summarises a completed backtest.
type Metrics struct {
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64 // fraction, 0.10 == 10%
	TotalReturnPct float64
	SharpeRatio    float64
	MaxDrawdown    float64 // positive fraction of the running peak
	MaxDrawdownPct float64
	NumTrades      int // completed round trips
	WinningTrades  int
	LosingTrades   int
	WinRate        float64 // percent, 0..100
	AvgWin         float64
	AvgLoss        float64
	ProfitFactor   float64 // +Inf when there are wins and no losses
}

// BacktestResult is the output of one successful backtest run.
type BacktestResult struct {
	Metrics     Metrics
	EquityCurve []EquityPoint
	Trades      []Trade
}
