// Package marketdata supplies daily bar history to the engines: an Alpaca
// backed provider, a Parquet read-through cache in front of it and an
// in-memory provider for tests and offline use.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantlab/internal/domain"
)

// Provider returns daily bars for a symbol within [start, end], ascending by
// date. Callers own the returned slice.
type Provider interface {
	// Name returns the provider identifier for logs.
	Name() string

	// DailyBars fetches the history of one symbol.
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// ---------------------------------------------------------------------------
// Static
// ---------------------------------------------------------------------------

var _ Provider = (*Static)(nil)

// Static serves bars held in memory. It counts calls so tests can assert
// whether data was fetched.
type Static struct {
	mu    sync.Mutex
	bars  map[string][]domain.Bar
	calls int
}

// NewStatic creates a Static provider from bars keyed by symbol.
func NewStatic(bars map[string][]domain.Bar) *Static {
	m := make(map[string][]domain.Bar, len(bars))
	for sym, b := range bars {
		sorted := append([]domain.Bar(nil), b...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
		m[strings.ToUpper(sym)] = sorted
	}
	return &Static{bars: m}
}

// Name returns "static".
func (s *Static) Name() string { return "static" }

// Calls returns the number of DailyBars calls served.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// DailyBars returns a copy of the stored bars within [start, end].
func (s *Static) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	bars, ok := s.bars[strings.ToUpper(symbol)]
	if !ok {
		return nil, domain.Dataf("no history for %s", symbol)
	}
	return between(bars, start, end), nil
}

// between copies the bars dated within [start, end].
func between(bars []domain.Bar, start, end time.Time) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FetchAll fetches every symbol through p and returns the series in input
// order.
func FetchAll(ctx context.Context, p Provider, symbols []string, start, end time.Time) ([]domain.PriceSeries, error) {
	out := make([]domain.PriceSeries, len(symbols))
	for i, sym := range symbols {
		bars, err := p.DailyBars(ctx, sym, start, end)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
		out[i] = domain.PriceSeries{Symbol: strings.ToUpper(sym), Bars: bars}
	}
	return out, nil
}
