package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the quantlab engine.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Backtest  BacktestConfig  `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	GRPCPort       int           `yaml:"grpc_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data and
// trading calendar APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	BaseURL         string `yaml:"base_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OptimizerConfig holds the numeric parameters of the portfolio optimizer.
type OptimizerConfig struct {
	LookbackDays       int     `yaml:"lookback_days"`
	MinObservations    int     `yaml:"min_observations"`
	FrontierPoints     int     `yaml:"frontier_points"`
	RidgeEpsilon       float64 `yaml:"ridge_epsilon"`
	ConditionThreshold float64 `yaml:"condition_threshold"`
	MaxIterations      int     `yaml:"max_iterations"`
	Tolerance          float64 `yaml:"tolerance"`
	Workers            int     `yaml:"workers"`
}

// BacktestConfig holds defaults for backtest requests and the strategy
// sandbox limits.
type BacktestConfig struct {
	DefaultCapital    float64 `yaml:"default_capital"`
	DefaultCommission float64 `yaml:"default_commission"`
	MaxViolationRate  float64 `yaml:"max_violation_rate"`
	MaxNodes          int     `yaml:"max_nodes"`
	WarmupBars        int     `yaml:"warmup_bars"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills unset fields with defaults and then applies
// environment variable overrides. A .env file in the working directory, when
// present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	setDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns a configuration populated only with defaults and
// environment overrides. Used when no config file exists.
func Default() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/quantlab.db"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Alpaca.MaxRetries == 0 {
		cfg.Alpaca.MaxRetries = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	o := &cfg.Optimizer
	if o.LookbackDays == 0 {
		o.LookbackDays = 365
	}
	if o.MinObservations == 0 {
		o.MinObservations = 30
	}
	if o.FrontierPoints == 0 {
		o.FrontierPoints = 50
	}
	if o.RidgeEpsilon == 0 {
		o.RidgeEpsilon = 1e-8
	}
	if o.ConditionThreshold == 0 {
		o.ConditionThreshold = 1e10
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = 5000
	}
	if o.Tolerance == 0 {
		o.Tolerance = 1e-9
	}
	if o.Workers == 0 {
		o.Workers = 4
	}

	b := &cfg.Backtest
	if b.DefaultCapital == 0 {
		b.DefaultCapital = 10000
	}
	if b.MaxViolationRate == 0 {
		b.MaxViolationRate = 0.5
	}
	if b.MaxNodes == 0 {
		b.MaxNodes = 512
	}
	if b.WarmupBars == 0 {
		b.WarmupBars = 60
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("QUANTLAB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("QUANTLAB_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
