package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"quantlab/internal/domain"
	"quantlab/internal/store"
	"quantlab/internal/util"
)

var _ Provider = (*CachedProvider)(nil)

// coverageSlack is how far the first and last cached bars may sit from the
// requested bounds, and how far apart two consecutive cached bars may be,
// before the cache counts as a miss. It absorbs weekends and market holidays.
const coverageSlack = 5 * 24 * time.Hour

// CachedProvider serves bars from a BarStore and falls through to an
// upstream Provider when the cache does not cover the requested range.
// Fetched bars are written back to the store.
type CachedProvider struct {
	store    store.BarStore
	upstream Provider
	log      *slog.Logger
	now      func() time.Time
}

// NewCachedProvider wraps upstream with a read-through cache in st.
func NewCachedProvider(st store.BarStore, upstream Provider, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = util.Discard()
	}
	return &CachedProvider{
		store:    st,
		upstream: upstream,
		log:      logger.With("provider", "cache"),
		now:      time.Now,
	}
}

// Name returns the upstream name with a cache prefix.
func (c *CachedProvider) Name() string { return "cache+" + c.upstream.Name() }

// DailyBars returns cached bars when they cover [start, end] and otherwise
// fetches, stores and returns the upstream bars.
func (c *CachedProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	cached, err := c.store.ReadBars(ctx, symbol, start, end)
	if err != nil {
		c.log.Warn("cache read failed", "symbol", symbol, "error", err)
	} else if c.covers(cached, start, end) {
		c.log.Debug("cache hit", "symbol", symbol, "bars", len(cached))
		return cached, nil
	}

	bars, err := c.upstream.DailyBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.store.WriteBars(ctx, bars); err != nil {
			c.log.Warn("cache write failed", "symbol", symbol, "error", err)
		}
	}
	return between(bars, start, end), nil
}

func (c *CachedProvider) covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	if now := c.now(); end.After(now) {
		end = now
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	if first.Sub(start) > coverageSlack || end.Sub(last) > coverageSlack {
		return false
	}
	// Disjoint windows fetched earlier leave a hole between them.
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > coverageSlack {
			return false
		}
	}
	return true
}

// Warm fetches every symbol into the cache, running up to workers fetches
// at a time. It stops at the first error.
func (c *CachedProvider) Warm(ctx context.Context, symbols []string, start, end time.Time, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, sym := range symbols {
		g.Go(func() error {
			bars, err := c.DailyBars(ctx, sym, start, end)
			if err != nil {
				return err
			}
			c.log.Info("warmed", "symbol", strings.ToUpper(sym), "bars", len(bars))
			return nil
		})
	}
	return g.Wait()
}
