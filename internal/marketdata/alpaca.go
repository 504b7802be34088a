package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"quantlab/internal/domain"
	"quantlab/internal/util"
)

var _ Provider = (*AlpacaProvider)(nil)

// AlpacaOptions configures an AlpacaProvider.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	// Feed is "iex" or "sip".
	Feed            string
	RateLimitPerMin int
	MaxRetries      int
	Logger          *slog.Logger
}

// AlpacaProvider fetches split and dividend adjusted daily bars from the
// Alpaca market-data API. Requests are rate limited and retried with
// exponential backoff.
type AlpacaProvider struct {
	client     *alpacamd.Client
	limiter    *rate.Limiter
	feed       string
	maxRetries int
	log        *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider.
func NewAlpacaProvider(opts AlpacaOptions) *AlpacaProvider {
	clientOpts := alpacamd.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}

	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}
	feed := opts.Feed
	if feed == "" {
		feed = "iex"
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.Discard()
	}

	return &AlpacaProvider{
		client:     alpacamd.NewClient(clientOpts),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMin)/60), 1),
		feed:       feed,
		maxRetries: opts.MaxRetries,
		log:        logger.With("provider", "alpaca"),
	}
}

// Name returns "alpaca".
func (p *AlpacaProvider) Name() string { return "alpaca" }

// DailyBars fetches daily bars for symbol. A failure after all retries is
// reported as a DataError.
func (p *AlpacaProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)
	var raw []alpacamd.Bar

	err := util.Retry(ctx, p.maxRetries, 500*time.Millisecond, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = p.client.GetBars(symbol, alpacamd.GetBarsRequest{
			TimeFrame:  alpacamd.OneDay,
			Adjustment: alpacamd.All,
			Start:      start,
			End:        end,
			Feed:       p.feed,
		})
		if err != nil {
			p.log.Warn("GetBars failed", "symbol", symbol, "error", err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: fetching %s: %v", domain.ErrData, symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	p.log.Debug("fetched daily bars", "symbol", symbol, "bars", len(bars))
	return bars, nil
}
