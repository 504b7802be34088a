package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/montanaflynn/stats"

	"quantlab/internal/domain"
)

// cursor binds rule functions to the bar currently being evaluated. Each run
// owns one cursor; it is never shared between runs.
type cursor struct {
	view     *View
	security error
}

func (c *cursor) current() (*View, error) {
	if c.view == nil {
		return nil, errors.New("no bar in scope")
	}
	return c.view, nil
}

// options returns the expr function table bound to c.
func (c *cursor) options() []expr.Option {
	return []expr.Option{
		expr.Function("prev", func(params ...any) (any, error) {
			v, err := c.current()
			if err != nil {
				return nil, err
			}
			out, err := v.Prev(params[0].(string), params[1].(int))
			if errors.Is(err, domain.ErrSecurityViolation) && c.security == nil {
				c.security = err
			}
			return out, err
		}, new(func(string, int) float64)),

		expr.Function("highest", func(params ...any) (any, error) {
			return c.window(params, func(w []float64) (float64, error) { return stats.Max(w) })
		}, new(func(string, int) float64)),

		expr.Function("lowest", func(params ...any) (any, error) {
			return c.window(params, func(w []float64) (float64, error) { return stats.Min(w) })
		}, new(func(string, int) float64)),

		expr.Function("avg", func(params ...any) (any, error) {
			return c.window(params, func(w []float64) (float64, error) { return stats.Mean(w) })
		}, new(func(string, int) float64)),

		expr.Function("crossover", func(params ...any) (any, error) {
			return c.cross(params, func(a0, b0, a1, b1 float64) bool { return a1 <= b1 && a0 > b0 })
		}, new(func(string, string) bool)),

		expr.Function("crossunder", func(params ...any) (any, error) {
			return c.cross(params, func(a0, b0, a1, b1 float64) bool { return a1 >= b1 && a0 < b0 })
		}, new(func(string, string) bool)),

		expr.Function("abs", func(params ...any) (any, error) {
			return math.Abs(params[0].(float64)), nil
		}, new(func(float64) float64)),

		expr.Function("min", func(params ...any) (any, error) {
			return math.Min(params[0].(float64), params[1].(float64)), nil
		}, new(func(float64, float64) float64)),

		expr.Function("max", func(params ...any) (any, error) {
			return math.Max(params[0].(float64), params[1].(float64)), nil
		}, new(func(float64, float64) float64)),

		expr.Function("floor", func(params ...any) (any, error) {
			return math.Floor(params[0].(float64)), nil
		}, new(func(float64) float64)),

		expr.Function("ceil", func(params ...any) (any, error) {
			return math.Ceil(params[0].(float64)), nil
		}, new(func(float64) float64)),

		expr.Function("round", func(params ...any) (any, error) {
			return math.Round(params[0].(float64)), nil
		}, new(func(float64) float64)),
	}
}

func (c *cursor) window(params []any, reduce func([]float64) (float64, error)) (any, error) {
	v, err := c.current()
	if err != nil {
		return nil, err
	}
	w, err := v.Window(params[0].(string), params[1].(int))
	if err != nil {
		return nil, err
	}
	for _, x := range w {
		if math.IsNaN(x) {
			return math.NaN(), nil
		}
	}
	return reduce(w)
}

func (c *cursor) cross(params []any, test func(a0, b0, a1, b1 float64) bool) (any, error) {
	v, err := c.current()
	if err != nil {
		return nil, err
	}
	if v.Index() == 0 {
		return false, nil
	}
	a, b := params[0].(string), params[1].(string)
	a0, err := v.Prev(a, 0)
	if err != nil {
		return nil, err
	}
	b0, err := v.Prev(b, 0)
	if err != nil {
		return nil, err
	}
	a1, err := v.Prev(a, 1)
	if err != nil {
		return nil, err
	}
	b1, err := v.Prev(b, 1)
	if err != nil {
		return nil, err
	}
	return test(a0, b0, a1, b1), nil
}

func functionNames() []string {
	names := make([]string, 0, len(columnFuncs)+len(mathFuncs))
	for n := range columnFuncs {
		names = append(names, n)
	}
	for n := range mathFuncs {
		names = append(names, n)
	}
	return names
}

var errNotNumeric = fmt.Errorf("signal must evaluate to BUY, SELL, HOLD or a number")
