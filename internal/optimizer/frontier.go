package optimizer

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"quantlab/internal/domain"
)

// frontier solves the minimum-variance problem for FrontierPoints target
// returns evenly spanning [min μ, max μ]. Targets are independent and are
// solved on a bounded worker pool. Targets that fail to converge are
// skipped.
func (o *Optimizer) frontier(ctx context.Context, mu []float64, sigma Matrix, lmax float64) ([]domain.FrontierPoint, error) {
	lo, hi := mu[0], mu[0]
	for _, m := range mu[1:] {
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}

	k := o.cfg.FrontierPoints
	if hi-lo < 1e-12 {
		k = 1
	}
	targets := make([]float64, k)
	for i := range targets {
		if k == 1 {
			targets[i] = lo
			continue
		}
		targets[i] = lo + (hi-lo)*float64(i)/float64(k-1)
	}

	n := len(mu)
	equal := make([]float64, n)
	for i := range equal {
		equal[i] = 1 / float64(n)
	}

	points := make([]*domain.FrontierPoint, k)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := &qpProblem{sigma: sigma, lmax: lmax, a: mu, b: target, project: ProjectSimplex}
			res := p.solve(equal, o.cfg.MaxIterations, o.cfg.Tolerance)
			if !res.converged {
				o.log.Debug("frontier target skipped",
					"target", target,
					"iterations", res.iterations,
					"residual", res.residual,
				)
				return nil
			}
			w := res.x
			points[i] = &domain.FrontierPoint{
				Volatility: math.Sqrt(math.Max(sigma.QuadForm(w), 0)),
				Return:     dot(mu, w),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.FrontierPoint, 0, k)
	for _, p := range points {
		if p != nil {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Volatility != out[j].Volatility {
			return out[i].Volatility < out[j].Volatility
		}
		return out[i].Return < out[j].Return
	})
	return out, nil
}
