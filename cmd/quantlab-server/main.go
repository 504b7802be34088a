package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"quantlab/internal/api"
	"quantlab/internal/catalog"
	"quantlab/internal/config"
	"quantlab/internal/engine"
	"quantlab/internal/marketdata"
	"quantlab/internal/optimizer"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
	"quantlab/internal/util"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/quantlab-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLogger(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating database directory: %v", err)
	}
	strategies, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening strategy store: %v", err)
	}
	defer strategies.Close()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	upstream := marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
		MaxRetries:      cfg.Alpaca.MaxRetries,
		Logger:          logger,
	})
	provider := marketdata.NewCachedProvider(bars, upstream, logger)

	opt := optimizer.New(optimizer.Config{
		MinObservations:    cfg.Optimizer.MinObservations,
		FrontierPoints:     cfg.Optimizer.FrontierPoints,
		RidgeEpsilon:       cfg.Optimizer.RidgeEpsilon,
		ConditionThreshold: cfg.Optimizer.ConditionThreshold,
		MaxIterations:      cfg.Optimizer.MaxIterations,
		Tolerance:          cfg.Optimizer.Tolerance,
		Workers:            cfg.Optimizer.Workers,
	}, logger.With("component", "optimizer"))

	cat := catalog.New(strategy.DefaultRegistry(), strategies, cfg.Backtest.MaxNodes, logger.With("component", "catalog"))

	eng := engine.NewEngine(provider, opt, cat, engine.Options{
		LookbackDays:     cfg.Optimizer.LookbackDays,
		RequestTimeout:   cfg.Server.RequestTimeout,
		WarmupBars:       cfg.Backtest.WarmupBars,
		MaxViolationRate: cfg.Backtest.MaxViolationRate,
		MaxNodes:         cfg.Backtest.MaxNodes,
	}, logger.With("component", "engine"))

	srv := api.NewServer(eng, api.Defaults{
		InitialCapital: cfg.Backtest.DefaultCapital,
		Commission:     cfg.Backtest.DefaultCommission,
	}, logger.With("component", "api"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	var grpcAddr string
	if cfg.Server.GRPCPort > 0 {
		grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}

	logger.Info("starting quantlab-server", "logFile", logFileName, "dataDir", cfg.Storage.DataDir)
	if err := srv.ListenAndServe(ctx, httpAddr, grpcAddr); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("quantlab-server stopped")
}

// loadConfig reads QUANTLAB_CONFIG (default config/quantlab.yaml), falling
// back to built-in defaults when the file does not exist.
func loadConfig() (*config.Config, error) {
	cfgPath := "config/quantlab.yaml"
	if p := os.Getenv("QUANTLAB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}
