// Package optimizer implements long-only mean-variance portfolio
// optimisation: the efficient frontier and the maximum-Sharpe allocation.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"quantlab/internal/domain"
	"quantlab/internal/util"
)

// Config holds the numeric parameters of the optimizer.
type Config struct {
	MinObservations    int
	FrontierPoints     int
	RidgeEpsilon       float64
	ConditionThreshold float64
	MaxIterations      int
	Tolerance          float64
	Workers            int
}

// DefaultConfig returns the standard optimizer parameters.
func DefaultConfig() Config {
	return Config{
		MinObservations:    30,
		FrontierPoints:     50,
		RidgeEpsilon:       1e-8,
		ConditionThreshold: 1e10,
		MaxIterations:      20000,
		Tolerance:          1e-8,
		Workers:            4,
	}
}

// Optimizer computes efficient frontiers and maximum-Sharpe portfolios. It
// holds no per-request state and is safe for concurrent use.
type Optimizer struct {
	cfg Config
	log *slog.Logger
}

// New creates an Optimizer. Zero fields of cfg take their defaults.
func New(cfg Config, logger *slog.Logger) *Optimizer {
	def := DefaultConfig()
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = def.MinObservations
	}
	if cfg.FrontierPoints <= 0 {
		cfg.FrontierPoints = def.FrontierPoints
	}
	if cfg.RidgeEpsilon <= 0 {
		cfg.RidgeEpsilon = def.RidgeEpsilon
	}
	if cfg.ConditionThreshold <= 0 {
		cfg.ConditionThreshold = def.ConditionThreshold
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if logger == nil {
		logger = util.Discard()
	}
	return &Optimizer{cfg: cfg, log: logger}
}

// Config returns the effective configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// ValidateRequest checks the request-level parameters before any data is
// touched: at least two distinct non-blank symbols and a finite risk-free
// rate.
func ValidateRequest(symbols []string, riskFree float64) error {
	if len(symbols) < 2 {
		return domain.Validationf("at least 2 tickers are required, got %d", len(symbols))
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.Validationf("ticker symbols must not be blank")
		}
		key := strings.ToUpper(s)
		if seen[key] {
			return domain.Validationf("duplicate ticker %q", s)
		}
		seen[key] = true
	}
	if math.IsNaN(riskFree) || math.IsInf(riskFree, 0) {
		return domain.Validationf("risk-free rate must be a finite number")
	}
	return nil
}

// Optimize aligns the price histories on their common dates, estimates the
// annualised moments and solves for the frontier and the maximum-Sharpe
// portfolio.
func (o *Optimizer) Optimize(ctx context.Context, series []domain.PriceSeries, riskFree float64) (*domain.OptimizationResult, error) {
	symbols := make([]string, len(series))
	for i, s := range series {
		symbols[i] = s.Symbol
	}
	if err := ValidateRequest(symbols, riskFree); err != nil {
		return nil, err
	}

	for _, s := range series {
		if err := domain.ValidateBars(s.Symbol, s.Bars); err != nil {
			return nil, err
		}
	}

	dates, closes := domain.AlignCloses(series)
	if len(dates) < o.cfg.MinObservations {
		return nil, domain.Dataf("only %d common trading days across %s, need at least %d",
			len(dates), strings.Join(symbols, ","), o.cfg.MinObservations)
	}

	returns := make([][]float64, len(closes))
	for i, c := range closes {
		returns[i] = domain.PercentReturns(c)
	}

	mu, cov, err := Moments(returns)
	if err != nil {
		return nil, err
	}

	o.log.Debug("estimated moments",
		"symbols", symbols,
		"observations", len(dates),
	)

	return o.Solve(ctx, symbols, mu, cov, riskFree)
}

// Solve runs the optimisation on pre-computed annualised moments.
func (o *Optimizer) Solve(ctx context.Context, symbols []string, mu []float64, cov Matrix, riskFree float64) (*domain.OptimizationResult, error) {
	if err := ValidateRequest(symbols, riskFree); err != nil {
		return nil, err
	}
	n := len(symbols)
	if len(mu) != n || len(cov) != n {
		return nil, domain.Validationf("moments have dimension %d/%d for %d symbols", len(mu), len(cov), n)
	}
	for _, m := range mu {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, domain.Dataf("expected returns contain non-finite values")
		}
	}
	if !cov.IsSymmetric(1e-12) {
		return nil, domain.Validationf("covariance matrix is not square and symmetric")
	}

	sigma, lmax, err := o.regularize(cov)
	if err != nil {
		return nil, err
	}

	frontier, err := o.frontier(ctx, mu, sigma, lmax)
	if err != nil {
		return nil, err
	}

	sol, err := o.maxSharpe(ctx, mu, sigma, lmax, riskFree)
	if err != nil {
		return nil, err
	}

	res := buildResult(symbols, sol.weights, mu, sigma, riskFree, frontier)
	if !sol.converged {
		o.log.Warn("max-sharpe solver did not converge",
			"iterations", sol.iterations,
			"residual", sol.residual,
		)
		return nil, &domain.OptimizationError{
			Reason:     "maximum-Sharpe solver did not converge",
			Iterations: sol.iterations,
			Best:       res,
		}
	}

	o.log.Info("optimization complete",
		"symbols", strings.Join(symbols, ","),
		"return", res.ExpectedReturn,
		"volatility", res.Volatility,
		"sharpe", res.SharpeRatio,
		"frontier_points", len(res.Frontier),
	)
	return res, nil
}

// regularize returns Σ, ridge-adjusted when it is near-singular, together
// with its largest eigenvalue.
func (o *Optimizer) regularize(cov Matrix) (Matrix, float64, error) {
	if !cov.Finite() {
		return nil, 0, &domain.OptimizationError{Reason: "covariance matrix contains non-finite values"}
	}

	eig := SymmetricEigenvalues(cov)
	lmin, lmax := eig[0], eig[len(eig)-1]
	if lmin > 0 && lmax/lmin <= o.cfg.ConditionThreshold {
		return cov, lmax, nil
	}

	sigma := cov.Clone()
	for i := range sigma {
		sigma[i][i] += o.cfg.RidgeEpsilon
	}
	eig = SymmetricEigenvalues(sigma)
	lmin, lmax = eig[0], eig[len(eig)-1]

	o.log.Warn("covariance near-singular, applied ridge",
		"epsilon", o.cfg.RidgeEpsilon,
		"lambda_min", lmin,
		"lambda_max", lmax,
	)

	if lmin <= 0 || math.IsNaN(lmin) || math.IsNaN(lmax) {
		return nil, 0, &domain.OptimizationError{
			Reason: fmt.Sprintf("covariance matrix singular after regularisation (smallest eigenvalue %.3g)", lmin),
		}
	}
	return sigma, lmax, nil
}

// buildResult assembles an OptimizationResult for the weight vector w.
func buildResult(symbols []string, w, mu []float64, sigma Matrix, riskFree float64, frontier []domain.FrontierPoint) *domain.OptimizationResult {
	ret := dot(mu, w)
	vol := math.Sqrt(math.Max(sigma.QuadForm(w), 0))
	var sharpe float64
	if vol > 0 {
		sharpe = (ret - riskFree) / vol
	}

	weights := make(domain.PortfolioWeights, len(symbols))
	for i, s := range symbols {
		weights[s] = w[i]
	}
	return &domain.OptimizationResult{
		Weights:        weights,
		ExpectedReturn: ret,
		Volatility:     vol,
		SharpeRatio:    sharpe,
		Frontier:       frontier,
	}
}

// cleanWeights drops dust weights and renormalises onto the simplex.
func cleanWeights(w []float64) []float64 {
	out := make([]float64, len(w))
	var sum float64
	for i, x := range w {
		if x > 1e-10 {
			out[i] = x
			sum += x
		}
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
