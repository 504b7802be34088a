package strategy

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
)

// View is the history visible to a strategy on bar t: bars and indicator
// columns for indices 0..t. Every slice is cut with a full slice expression,
// so later bars cannot be reached even by re-slicing.
type View struct {
	t    int
	bars []domain.Bar
	cols map[string][]float64
}

// NewView builds the view of frame as of bar t.
func NewView(frame *indicator.Frame, t int) *View {
	if t < 0 || t >= frame.Len() {
		panic(fmt.Sprintf("strategy: view index %d out of range [0,%d)", t, frame.Len()))
	}
	names := indicator.Names()
	cols := make(map[string][]float64, len(names))
	for _, name := range names {
		c, _ := frame.Column(name)
		cols[name] = c[: t+1 : t+1]
	}
	return &View{
		t:    t,
		bars: frame.Bars[: t+1 : t+1],
		cols: cols,
	}
}

// Index returns the position of the current bar.
func (v *View) Index() int { return v.t }

// Len returns the number of visible bars.
func (v *View) Len() int { return v.t + 1 }

// Bar returns the current bar.
func (v *View) Bar() domain.Bar { return v.bars[v.t] }

// Bars returns the visible bars. The slice must not be modified.
func (v *View) Bars() []domain.Bar { return v.bars }

// Column returns the visible part of a column.
func (v *View) Column(name string) ([]float64, bool) {
	c, ok := v.cols[name]
	return c, ok
}

// Value returns the current value of a column.
func (v *View) Value(name string) (float64, error) {
	return v.Prev(name, 0)
}

// Prev returns the value of a column n bars before the current one. A
// negative n would read a future bar and is reported as a security
// violation.
func (v *View) Prev(name string, n int) (float64, error) {
	if n < 0 {
		return 0, domain.Securityf("lookahead: offset %d reads a future bar", n)
	}
	c, ok := v.cols[name]
	if !ok {
		return 0, fmt.Errorf("unknown column %q", name)
	}
	if n > v.t {
		return 0, fmt.Errorf("%s: offset %d exceeds available history of %d bars", name, n, v.t)
	}
	return c[v.t-n], nil
}

// Window returns the last n values of a column, current bar included.
func (v *View) Window(name string, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%s: window length must be positive, got %d", name, n)
	}
	c, ok := v.cols[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	if n > len(c) {
		return nil, fmt.Errorf("%s: window of %d exceeds available history of %d bars", name, n, len(c))
	}
	return c[len(c)-n:], nil
}
