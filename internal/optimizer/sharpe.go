package optimizer

import (
	"context"
	"math"
)

type sharpeSolution struct {
	weights    []float64
	iterations int
	residual   float64
	converged  bool
}

// maxSharpe finds the long-only weights maximising (μ'w - rf)/sqrt(w'Σw).
//
// When at least one asset beats the risk-free rate the problem is solved
// through its convex reformulation
//
//	minimise y'Σy  subject to (μ - rf)'y = 1, y >= 0
//
// with w = y / sum(y). Σ is positive definite here, so the optimum is unique.
// Otherwise every portfolio has a negative excess return and the ratio is
// maximised directly by projected gradient ascent from equal weights.
func (o *Optimizer) maxSharpe(ctx context.Context, mu []float64, sigma Matrix, lmax, riskFree float64) (sharpeSolution, error) {
	if err := ctx.Err(); err != nil {
		return sharpeSolution{}, err
	}

	n := len(mu)
	excess := make([]float64, n)
	x0 := make([]float64, n)
	var pos float64
	for i, m := range mu {
		excess[i] = m - riskFree
		if excess[i] > 0 {
			x0[i] = excess[i]
			pos += excess[i] * excess[i]
		}
	}

	if pos == 0 {
		return o.sharpeAscent(ctx, mu, sigma, riskFree)
	}

	for i := range x0 {
		x0[i] /= pos
	}
	p := &qpProblem{sigma: sigma, lmax: lmax, a: excess, b: 1, project: ProjectNonNegative}
	res := p.solve(x0, o.cfg.MaxIterations, o.cfg.Tolerance)

	var sum float64
	for _, y := range res.x {
		sum += y
	}
	w := make([]float64, n)
	if sum > 0 {
		for i, y := range res.x {
			w[i] = y / sum
		}
	}
	return sharpeSolution{
		weights:    cleanWeights(w),
		iterations: res.iterations,
		residual:   res.residual,
		converged:  res.converged,
	}, nil
}

// sharpeAscent maximises the Sharpe ratio by projected gradient ascent on the
// simplex with a fixed iteration count and a diminishing normalised step.
// The best iterate is kept; among iterates within tolerance of the best
// ratio the one with the lowest volatility wins.
func (o *Optimizer) sharpeAscent(ctx context.Context, mu []float64, sigma Matrix, riskFree float64) (sharpeSolution, error) {
	n := len(mu)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}

	eval := func(w []float64) (sharpe, vol float64) {
		vol = math.Sqrt(math.Max(sigma.QuadForm(w), 0))
		if vol == 0 {
			return math.Inf(-1), 0
		}
		return (dot(mu, w) - riskFree) / vol, vol
	}

	best := append([]float64(nil), w...)
	bestSharpe, bestVol := eval(w)
	tol := o.cfg.Tolerance

	iters := o.cfg.MaxIterations
	grad := make([]float64, n)
	for k := 0; k < iters; k++ {
		if k%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return sharpeSolution{}, err
			}
		}

		vol := math.Sqrt(math.Max(sigma.QuadForm(w), 0))
		if vol == 0 {
			break
		}
		ex := dot(mu, w) - riskFree
		sw := sigma.MulVec(w)
		for i := range grad {
			grad[i] = mu[i]/vol - ex*sw[i]/(vol*vol*vol)
		}
		gn := norm2(grad)
		if gn == 0 {
			break
		}

		step := 0.1 / math.Sqrt(float64(k+1)) / gn
		for i := range w {
			w[i] += step * grad[i]
		}
		ProjectSimplex(w)

		s, v := eval(w)
		if s > bestSharpe+tol || (math.Abs(s-bestSharpe) <= tol && v < bestVol) {
			copy(best, w)
			bestSharpe, bestVol = s, v
		}
	}

	return sharpeSolution{
		weights:    cleanWeights(best),
		iterations: iters,
		converged:  true,
	}, nil
}
