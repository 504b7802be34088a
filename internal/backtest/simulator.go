// Package backtest replays a strategy over daily bars, producing the trade
// log, the equity curve and the summary metrics of the run.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"quantlab/internal/broker"
	"quantlab/internal/domain"
	"quantlab/internal/indicator"
	"quantlab/internal/metrics"
	"quantlab/internal/strategy"
	"quantlab/internal/util"
)

// State is the lifecycle stage of a Simulator.
type State int

// Simulator states. A simulator moves Initialized -> Running and ends in
// either Completed or Failed; it cannot be run again.
const (
	StateInitialized State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrAlreadyRun is returned by Run on a simulator that has left
// StateInitialized.
var ErrAlreadyRun = errors.New("backtest: simulator already run")

// Options configures a Simulator.
type Options struct {
	InitialCapital float64
	Commission     float64
	// RiskFreeRate is the annual rate used for the Sharpe ratio.
	RiskFreeRate float64
	// TradeFrom marks the first simulated bar. Earlier bars only warm up the
	// indicators and are visible to the strategy as history.
	TradeFrom time.Time
	Logger    *slog.Logger
}

// Validate checks the account parameters of a run.
func (o Options) Validate() error {
	if math.IsNaN(o.InitialCapital) || math.IsInf(o.InitialCapital, 0) || o.InitialCapital <= 0 {
		return domain.Validationf("initial capital must be positive, got %v", o.InitialCapital)
	}
	if math.IsNaN(o.Commission) || o.Commission < 0 || o.Commission >= 1 {
		return domain.Validationf("commission must be in [0,1), got %v", o.Commission)
	}
	return nil
}

// RunError reports a failed run together with the trades filled before the
// failure. A failed run produces no BacktestResult.
type RunError struct {
	Err    error
	Bar    int
	Trades []domain.Trade
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest failed at bar %d: %v", e.Bar, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Simulator runs one backtest. It is not safe for concurrent use.
type Simulator struct {
	opts  Options
	state State
	log   *slog.Logger

	broker     broker.Broker
	stopLoss   float64
	takeProfit float64
	trades     []domain.Trade
	curve      []domain.EquityPoint
}

// New validates opts and returns a simulator in StateInitialized.
func New(opts Options) (*Simulator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.Discard()
	}
	return &Simulator{
		opts:   opts,
		state:  StateInitialized,
		log:    logger,
		broker: broker.NewSimulatorBroker(opts.InitialCapital, opts.Commission),
	}, nil
}

// State returns the current lifecycle stage.
func (s *Simulator) State() State { return s.state }

// Run replays strat over bars. Bars must be ascending by date. On failure the
// returned error is a *RunError carrying the partial trade log.
func (s *Simulator) Run(ctx context.Context, bars []domain.Bar, strat strategy.Strategy) (*domain.BacktestResult, error) {
	if s.state != StateInitialized {
		return nil, ErrAlreadyRun
	}
	if err := domain.ValidateBars(symbolOf(bars), bars); err != nil {
		s.state = StateFailed
		return nil, &RunError{Err: err}
	}

	first := FirstTradedBar(bars, s.opts.TradeFrom)
	if first == len(bars) {
		s.state = StateFailed
		return nil, &RunError{Err: domain.Dataf("no bars on or after %s", s.opts.TradeFrom.Format(time.DateOnly))}
	}

	s.state = StateRunning
	frame := indicator.Compute(bars)
	s.curve = make([]domain.EquityPoint, 0, len(bars)-first)

	s.log.Info("backtest started",
		"strategy", strat.Name(),
		"bars", len(bars)-first,
		"warmup", first,
		"capital", s.opts.InitialCapital,
		"commission", s.opts.Commission,
	)

	for t := first; t < len(bars); t++ {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(t, err)
		}
		if err := s.step(ctx, frame, t, strat); err != nil {
			return nil, s.fail(t, err)
		}
	}

	s.state = StateCompleted
	m := metrics.Compute(s.opts.InitialCapital, s.curve, s.trades, s.opts.RiskFreeRate)

	s.log.Info("backtest completed",
		"strategy", strat.Name(),
		"trades", len(s.trades),
		"final_equity", m.FinalEquity,
		"total_return_pct", m.TotalReturnPct,
	)

	return &domain.BacktestResult{
		Metrics:     m,
		EquityCurve: s.curve,
		Trades:      s.trades,
	}, nil
}

func (s *Simulator) fail(t int, err error) error {
	s.state = StateFailed
	s.log.Warn("backtest failed", "bar", t, "error", err)
	return &RunError{Err: err, Bar: t, Trades: s.trades}
}

// step simulates bar t.
func (s *Simulator) step(ctx context.Context, frame *indicator.Frame, t int, strat strategy.Strategy) error {
	bar := frame.Bars[t]
	acct, err := s.broker.GetAccount(ctx)
	if err != nil {
		return err
	}

	if exit, price, ok := s.breach(acct, bar); ok {
		if err := s.sell(ctx, bar, price, exit); err != nil {
			return err
		}
		s.mark(bar)
		return nil
	}

	view := strategy.NewView(frame, t)
	d, err := strat.Decide(ctx, view, strategy.Account{
		Cash:       acct.Cash,
		Shares:     acct.Shares,
		EntryPrice: acct.EntryPrice,
	})
	if err != nil {
		return err
	}

	switch d.Action {
	case domain.ActionBuy:
		if acct.Shares == 0 {
			if err := s.buy(ctx, bar); err != nil {
				return err
			}
		}
	case domain.ActionSell:
		if acct.Shares > 0 {
			if err := s.sell(ctx, bar, bar.Close, domain.ExitReasonSignal); err != nil {
				return err
			}
		}
	}

	if s.holding(ctx) {
		if d.StopLoss > 0 {
			s.stopLoss = d.StopLoss
		}
		if d.TakeProfit > 0 {
			s.takeProfit = d.TakeProfit
		}
	}
	s.mark(bar)
	return nil
}

// breach checks the open position's thresholds against the bar's range. The
// stop-loss is checked first, so a bar spanning both exits at the stop.
func (s *Simulator) breach(acct broker.AccountInfo, bar domain.Bar) (string, float64, bool) {
	if acct.Shares == 0 {
		return "", 0, false
	}
	if s.stopLoss > 0 && bar.Low <= s.stopLoss {
		return domain.ExitReasonStopLoss, s.stopLoss, true
	}
	if s.takeProfit > 0 && bar.High >= s.takeProfit {
		return domain.ExitReasonTakeProfit, s.takeProfit, true
	}
	return "", 0, false
}

func (s *Simulator) buy(ctx context.Context, bar domain.Bar) error {
	trade, err := s.broker.SubmitOrder(ctx, broker.Order{
		Date:   bar.Date(),
		Side:   domain.TradeBuy,
		Price:  bar.Close,
		Reason: domain.ExitReasonSignal,
	})
	if errors.Is(err, broker.ErrInsufficientFunds) {
		s.log.Debug("buy skipped, insufficient funds", "date", bar.Date(), "price", bar.Close)
		return nil
	}
	if err != nil {
		return err
	}
	s.stopLoss, s.takeProfit = 0, 0
	s.trades = append(s.trades, trade)
	return nil
}

func (s *Simulator) sell(ctx context.Context, bar domain.Bar, price float64, reason string) error {
	trade, err := s.broker.SubmitOrder(ctx, broker.Order{
		Date:   bar.Date(),
		Side:   domain.TradeSell,
		Price:  price,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	s.stopLoss, s.takeProfit = 0, 0
	s.trades = append(s.trades, trade)
	return nil
}

func (s *Simulator) holding(ctx context.Context) bool {
	acct, err := s.broker.GetAccount(ctx)
	return err == nil && acct.Shares > 0
}

func (s *Simulator) mark(bar domain.Bar) {
	cash, pos, equity := s.broker.Equity(bar.Close)
	s.curve = append(s.curve, domain.EquityPoint{
		Date:          bar.Date(),
		Cash:          cash,
		PositionValue: pos,
		Equity:        equity,
	})
}

// FirstTradedBar returns the index of the first bar dated on or after from,
// or len(bars) when there is none.
func FirstTradedBar(bars []domain.Bar, from time.Time) int {
	if from.IsZero() {
		return 0
	}
	for i, b := range bars {
		if !b.Timestamp.Before(from) {
			return i
		}
	}
	return len(bars)
}

func symbolOf(bars []domain.Bar) string {
	if len(bars) > 0 && bars[0].Symbol != "" {
		return bars[0].Symbol
	}
	return "series"
}
