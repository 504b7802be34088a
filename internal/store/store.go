// Package store defines storage interfaces for the daily bar cache and the
// custom strategy catalog, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"quantlab/internal/domain"
)

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with bars already stored.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], ascending by date.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// StrategyStore persists custom strategy definitions.
type StrategyStore interface {
	// SaveStrategy inserts a definition or replaces the one with the same ID.
	SaveStrategy(ctx context.Context, def domain.StrategyDefinition) error

	// GetStrategy returns the definition with the given ID, or an error
	// wrapping domain.ErrNotFound.
	GetStrategy(ctx context.Context, id string) (domain.StrategyDefinition, error)

	// ListStrategies returns all definitions, oldest first.
	ListStrategies(ctx context.Context) ([]domain.StrategyDefinition, error)

	// DeleteStrategy removes a definition, returning an error wrapping
	// domain.ErrNotFound if it does not exist.
	DeleteStrategy(ctx context.Context, id string) error
}
