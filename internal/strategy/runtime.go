package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"quantlab/internal/domain"
	"quantlab/internal/util"
)

// DefaultMaxViolationRate is the fraction of bars allowed to fail before a
// run is aborted.
const DefaultMaxViolationRate = 0.5

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// TotalBars is the length of the run, used for the violation budget.
	TotalBars int
	// Params overrides the rule's declared parameter defaults.
	Params map[string]float64
	// MaxViolationRate defaults to DefaultMaxViolationRate.
	MaxViolationRate float64
	Logger           *slog.Logger
}

// Runtime evaluates a Rule for one backtest run. It is not safe for
// concurrent use; every run gets its own Runtime.
type Runtime struct {
	rule     *Rule
	cursor   *cursor
	programs map[string]*vm.Program
	env      map[string]any

	totalBars  int
	maxRate    float64
	violations int
	lastErr    error
	log        *slog.Logger
}

var _ Strategy = (*Runtime)(nil)

// NewRuntime binds r to a fresh cursor and parameter set.
func (r *Rule) NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	params, err := r.Params(opts.Params)
	if err != nil {
		return nil, err
	}

	c := &cursor{}
	programs, err := r.programs(c)
	if err != nil {
		return nil, err
	}

	env := r.templateEnv()
	for k, v := range params {
		env[k] = v
	}

	rate := opts.MaxViolationRate
	if rate <= 0 {
		rate = DefaultMaxViolationRate
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.Discard()
	}

	return &Runtime{
		rule:      r,
		cursor:    c,
		programs:  programs,
		env:       env,
		totalBars: opts.TotalBars,
		maxRate:   rate,
		log:       logger,
	}, nil
}

// Name implements Strategy.
func (rt *Runtime) Name() string { return rt.rule.Name }

// Violations returns the number of bars whose evaluation failed so far.
func (rt *Runtime) Violations() int { return rt.violations }

// Decide implements Strategy. Per-bar evaluation errors degrade the bar to
// HOLD and count as violations. The run fails with StrategyRuntimeError once
// violations exceed the allowed fraction of TotalBars, and at once on a
// security violation.
func (rt *Runtime) Decide(_ context.Context, view *View, acct Account) (domain.Decision, error) {
	rt.cursor.view = view
	rt.cursor.security = nil
	defer func() { rt.cursor.view = nil }()

	rt.bind(view, acct)

	d, err := rt.evaluate(view, acct)
	if rt.cursor.security != nil {
		return domain.Hold, rt.cursor.security
	}
	if err == nil {
		return d, nil
	}
	if errors.Is(err, domain.ErrSecurityViolation) {
		return domain.Hold, err
	}

	rt.violations++
	rt.lastErr = err
	rt.log.Debug("rule evaluation failed, holding",
		"strategy", rt.rule.Name,
		"bar", view.Index(),
		"error", err,
	)

	if float64(rt.violations) > rt.maxRate*float64(rt.totalBars) {
		return domain.Hold, fmt.Errorf("%w: %d of %d bars failed (limit %.0f%%), last error: %v",
			domain.ErrStrategyRuntime, rt.violations, rt.totalBars, rt.maxRate*100, rt.lastErr)
	}
	return domain.Hold, nil
}

func (rt *Runtime) bind(view *View, acct Account) {
	for name, col := range view.cols {
		rt.env[name] = col[len(col)-1]
	}

	position := 0.0
	if !acct.Flat() {
		position = 1
	}
	rt.env[varCash] = acct.Cash
	rt.env[varShares] = float64(acct.Shares)
	rt.env[varPosition] = position
	rt.env[varEntryPrice] = acct.EntryPrice
	rt.env[varBarIndex] = float64(view.Index())
}

func (rt *Runtime) run(field string) (any, error) {
	p, ok := rt.programs[field]
	if !ok {
		return nil, nil
	}
	out, err := expr.Run(p, rt.env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return out, nil
}

func (rt *Runtime) evaluate(view *View, acct Account) (domain.Decision, error) {
	action, err := rt.action(acct)
	if err != nil {
		return domain.Hold, err
	}

	d := domain.Decision{Action: action}
	opening := action == domain.ActionBuy && acct.Flat()
	holding := !acct.Flat() && action != domain.ActionSell
	if !opening && !holding {
		return d, nil
	}

	px := view.Bar().Close
	doc := rt.rule.Doc

	// An opening BUY fills at the close, so thresholds see the fill.
	if opening {
		rt.env[varEntryPrice] = px
		rt.env[varPosition] = 1.0
	}

	if sl, err := rt.price("stop_loss"); err != nil {
		return domain.Hold, err
	} else if sl > 0 {
		d.StopLoss = sl
	} else if opening && doc.StopLossPct > 0 {
		d.StopLoss = px * (1 - doc.StopLossPct)
	}

	if tp, err := rt.price("take_profit"); err != nil {
		return domain.Hold, err
	} else if tp > 0 {
		d.TakeProfit = tp
	} else if opening && doc.TakeProfitPct > 0 {
		d.TakeProfit = px * (1 + doc.TakeProfitPct)
	}
	return d, nil
}

func (rt *Runtime) action(acct Account) (domain.Action, error) {
	if _, ok := rt.programs["signal"]; ok {
		out, err := rt.run("signal")
		if err != nil {
			return domain.ActionHold, err
		}
		return parseSignal(out)
	}

	buy, err := rt.flag("buy")
	if err != nil {
		return domain.ActionHold, err
	}
	sell, err := rt.flag("sell")
	if err != nil {
		return domain.ActionHold, err
	}

	switch {
	case buy && sell:
		if acct.Flat() {
			return domain.ActionBuy, nil
		}
		return domain.ActionSell, nil
	case buy:
		return domain.ActionBuy, nil
	case sell:
		return domain.ActionSell, nil
	}
	return domain.ActionHold, nil
}

func (rt *Runtime) flag(field string) (bool, error) {
	out, err := rt.run(field)
	if err != nil || out == nil {
		return false, err
	}
	return out.(bool), nil
}

// price evaluates a threshold expression. NaN, infinite and non-positive
// results mean "no threshold".
func (rt *Runtime) price(field string) (float64, error) {
	out, err := rt.run(field)
	if err != nil || out == nil {
		return 0, err
	}
	v := out.(float64)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, nil
	}
	return v, nil
}

func parseSignal(out any) (domain.Action, error) {
	switch v := out.(type) {
	case nil:
		return domain.ActionHold, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "BUY":
			return domain.ActionBuy, nil
		case "SELL":
			return domain.ActionSell, nil
		case "HOLD", "":
			return domain.ActionHold, nil
		}
		return domain.ActionHold, fmt.Errorf("%w, got %q", errNotNumeric, v)
	case int:
		return signAction(float64(v)), nil
	case float64:
		if math.IsNaN(v) {
			return domain.ActionHold, nil
		}
		return signAction(v), nil
	}
	return domain.ActionHold, fmt.Errorf("%w, got %T", errNotNumeric, out)
}

func signAction(v float64) domain.Action {
	switch {
	case v > 0:
		return domain.ActionBuy
	case v < 0:
		return domain.ActionSell
	}
	return domain.ActionHold
}
