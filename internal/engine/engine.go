// Package engine coordinates the quant engines for one request: it
// validates parameters, resolves strategies, fetches history through the
// market-data provider and runs the optimizer or the backtest simulator
// under the request timeout.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quantlab/internal/backtest"
	"quantlab/internal/catalog"
	"quantlab/internal/domain"
	"quantlab/internal/marketdata"
	"quantlab/internal/optimizer"
	"quantlab/internal/strategy"
	"quantlab/internal/util"
)

// ErrTimeout is returned when a request exceeds its deadline. Partial
// results are discarded.
var ErrTimeout = errors.New("request timed out")

// Options holds the request-level limits of the engine.
type Options struct {
	// LookbackDays is the calendar window of history used by Optimize.
	LookbackDays int
	// RequestTimeout bounds every request; zero disables it.
	RequestTimeout time.Duration
	// WarmupBars is the number of trading days fetched before a backtest's
	// start date so indicators are defined from the first simulated bar.
	WarmupBars       int
	MaxViolationRate float64
	MaxNodes         int
}

// Engine orchestrates optimisation and backtest requests. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	provider  marketdata.Provider
	optimizer *optimizer.Optimizer
	catalog   *catalog.Catalog
	opts      Options
	log       *slog.Logger
	now       func() time.Time
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(
	provider marketdata.Provider,
	opt *optimizer.Optimizer,
	cat *catalog.Catalog,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 365
	}
	if logger == nil {
		logger = util.Discard()
	}
	return &Engine{
		provider:  provider,
		optimizer: opt,
		catalog:   cat,
		opts:      opts,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the strategy catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.RequestTimeout)
}

// timeout maps a deadline expiry onto ErrTimeout, keeping the cause.
func timeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// ---------------------------------------------------------------------------
// Optimize
// ---------------------------------------------------------------------------

// Optimize fetches the trailing LookbackDays of history for every ticker and
// returns the efficient frontier and maximum-Sharpe allocation.
func (e *Engine) Optimize(ctx context.Context, req OptimizeRequest) (*domain.OptimizationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	end := e.now()
	start := end.AddDate(0, 0, -e.opts.LookbackDays)
	tickers := normalize(req.Tickers)

	series, err := marketdata.FetchAll(ctx, e.provider, tickers, start, end)
	if err != nil {
		return nil, timeout(err)
	}

	began := time.Now()
	res, err := e.optimizer.Optimize(ctx, series, req.RiskFreeRate)
	if err != nil {
		e.log.Warn("optimization failed", "tickers", tickers, "error", err)
		return nil, timeout(err)
	}

	e.log.Info("optimization completed",
		"tickers", tickers,
		"sharpe", res.SharpeRatio,
		"frontier_points", len(res.Frontier),
		"elapsed", time.Since(began).Round(time.Millisecond),
	)
	return res, nil
}

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

// Backtest compiles the requested strategy, fetches the ticker's history and
// replays the strategy over it. A failed run returns a *backtest.RunError.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (*domain.BacktestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	rule, err := e.resolveRule(ctx, req)
	if err != nil {
		return nil, err
	}
	// Parameter overrides are checked before fetching.
	if _, err := rule.Params(req.Params); err != nil {
		return nil, err
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	fetchFrom := req.StartDate.AddDate(0, 0, -warmupDays(e.opts.WarmupBars))
	bars, err := e.provider.DailyBars(ctx, ticker, fetchFrom, req.EndDate)
	if err != nil {
		return nil, timeout(err)
	}

	traded := len(bars) - backtest.FirstTradedBar(bars, req.StartDate)
	if traded < 1 {
		return nil, domain.Dataf("no bars for %s between %s and %s", ticker,
			req.StartDate.Format(time.DateOnly), req.EndDate.Format(time.DateOnly))
	}

	rt, err := rule.NewRuntime(strategy.RuntimeOptions{
		TotalBars:        traded,
		Params:           req.Params,
		MaxViolationRate: e.opts.MaxViolationRate,
		Logger:           e.log,
	})
	if err != nil {
		return nil, err
	}

	sim, err := backtest.New(backtest.Options{
		InitialCapital: req.InitialCapital,
		Commission:     req.Commission,
		RiskFreeRate:   req.RiskFreeRate,
		TradeFrom:      req.StartDate,
		Logger:         e.log.With("ticker", ticker),
	})
	if err != nil {
		return nil, err
	}

	res, err := sim.Run(ctx, bars, rt)
	if err != nil {
		return nil, timeout(err)
	}
	return res, nil
}

func (e *Engine) resolveRule(ctx context.Context, req BacktestRequest) (*strategy.Rule, error) {
	if strings.TrimSpace(req.Rule) != "" {
		return strategy.Compile("inline", req.Rule, e.opts.MaxNodes)
	}
	if e.catalog == nil {
		return nil, fmt.Errorf("strategy %q: %w", req.StrategyID, domain.ErrNotFound)
	}
	return e.catalog.Compile(ctx, req.StrategyID)
}

// warmupDays converts trading days to calendar days with room for weekends
// and holidays.
func warmupDays(bars int) int {
	if bars <= 0 {
		return 0
	}
	return bars*7/5 + 7
}

func normalize(tickers []string) []string {
	out := make([]string, len(tickers))
	for i, t := range tickers {
		out[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	return out
}
