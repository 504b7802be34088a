package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantlab/internal/config"
	"quantlab/internal/marketdata"
	"quantlab/internal/store"
	"quantlab/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated tickers to fetch (required)")
	startDate := flag.String("start", time.Now().AddDate(-2, 0, 0).Format(time.DateOnly), "first date, YYYY-MM-DD")
	endDate := flag.String("end", time.Now().Format(time.DateOnly), "last date, YYYY-MM-DD")
	workers := flag.Int("workers", 4, "concurrent fetches")
	flag.Parse()

	if strings.TrimSpace(*symbols) == "" {
		flag.Usage()
		os.Exit(2)
	}
	start, err := time.Parse(time.DateOnly, *startDate)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.Parse(time.DateOnly, *endDate)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	cfgPath := "config/quantlab.yaml"
	if p := os.Getenv("QUANTLAB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/quantlab-fetch-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLogger(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	upstream := marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
		MaxRetries:      cfg.Alpaca.MaxRetries,
		Logger:          logger,
	})
	cache := marketdata.NewCachedProvider(store.NewParquetStore(cfg.Storage.DataDir), upstream, logger)

	// Without an explicit -end, stop at the last settled session so partial
	// bars are never cached.
	endSet := false
	flag.Visit(func(f *flag.Flag) { endSet = endSet || f.Name == "end" })
	if !endSet {
		if day, err := marketdata.LatestFinishedTradingDay(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL); err != nil {
			slog.Warn("trading calendar unavailable, using -end as given", "error", err)
		} else {
			end = day
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	list := strings.Split(*symbols, ",")
	slog.Info("warming bar cache", "symbols", len(list), "start", *startDate, "end", end.Format(time.DateOnly), "logFile", logFileName)
	began := time.Now()
	if err := cache.Warm(ctx, list, start, end.AddDate(0, 0, 1).Add(-time.Nanosecond), *workers); err != nil {
		log.Fatalf("fetch failed: %v", err)
	}
	slog.Info("done", "elapsed", time.Since(began).Round(time.Millisecond))
}
