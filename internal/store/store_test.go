package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")
	assert.Equal(t, filepath.Join("/data", "daily", "AAPL", "2024.parquet"), ps.barPath("aapl", 2024))
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
	}

	require.NoError(t, ps.WriteBars(ctx, bars))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 185.5, got[0].Close)
	assert.Equal(t, 186.0, got[1].Close)
	assert.True(t, got[0].Timestamp.Equal(bars[1].Timestamp))
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())

	narrow, err := ps.ReadBars(ctx, "aapl", start, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, narrow, 1)
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	first := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: 400, High: 405, Low: 399, Close: 403},
	}
	require.NoError(t, ps.WriteBars(ctx, first))

	// A second day merges; a rewrite of the first day replaces it.
	second := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Open: 403, High: 410, Low: 402, Close: 408},
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: 400, High: 405, Low: 399, Close: 404},
	}
	require.NoError(t, ps.WriteBars(ctx, second))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 404.0, got[0].Close)
}

func TestParquetStoreAcrossYears(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "SPY", Timestamp: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1},
		{Symbol: "SPY", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 2, High: 2, Low: 2, Close: 2},
	}
	require.NoError(t, ps.WriteBars(ctx, bars))

	from, to := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "SPY", from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 2.0, got[1].Close)

	missing, err := ps.ReadBars(ctx, "QQQ", from, to)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	symbols, err := ps.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Empty(t, symbols)

	bars := []domain.Bar{
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
	}
	require.NoError(t, ps.WriteBars(ctx, bars))

	symbols, err = ps.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOGL"}, symbols)
}

func TestSQLiteStoreOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()

	require.NoError(t, store.db.Ping())
}

func TestSQLiteStoreStrategies(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := domain.StrategyDefinition{
		ID: "custom-1", Name: "Dip buyer", Slug: "dip_buyer",
		Rule: "buy: rsi < 25", Description: "buys dips",
		CreatedAt: created, UpdatedAt: created,
	}
	b := domain.StrategyDefinition{
		ID: "custom-2", Name: "Trend", Slug: "trend", Rule: "buy: close > ma60",
		CreatedAt: created.Add(time.Hour), UpdatedAt: created.Add(time.Hour),
	}
	for _, def := range []domain.StrategyDefinition{b, a} {
		require.NoError(t, store.SaveStrategy(ctx, def), "SaveStrategy(%s)", def.ID)
	}

	got, err := store.GetStrategy(ctx, "custom-1")
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, a.Rule, got.Rule)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.IsCustom)

	a.Rule = "buy: rsi < 20"
	a.UpdatedAt = created.Add(2 * time.Hour)
	require.NoError(t, store.SaveStrategy(ctx, a))

	list, err := store.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "custom-1", list[0].ID)
	assert.Equal(t, "custom-2", list[1].ID)
	assert.Equal(t, "buy: rsi < 20", list[0].Rule)

	require.NoError(t, store.DeleteStrategy(ctx, "custom-1"))
	_, err = store.GetStrategy(ctx, "custom-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.DeleteStrategy(ctx, "custom-1"), domain.ErrNotFound)
}
