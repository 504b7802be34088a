package optimizer

import (
	"math"
	"sort"
)

// projection maps a point onto a closed convex set in place.
type projection func(x []float64)

// ProjectSimplex projects x onto {w : w >= 0, sum(w) = 1} in place.
func ProjectSimplex(x []float64) {
	u := append([]float64(nil), x...)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	var css, theta float64
	for i, ui := range u {
		css += ui
		t := (css - 1) / float64(i+1)
		if ui-t > 0 {
			theta = t
		}
	}
	for i := range x {
		x[i] = math.Max(x[i]-theta, 0)
	}
}

// ProjectNonNegative clamps x onto the non-negative orthant in place.
func ProjectNonNegative(x []float64) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// qpProblem is
//
//	minimise   x'Σx
//	subject to a'x = b, x ∈ C
//
// where C is a convex set with a cheap projection.
type qpProblem struct {
	sigma   Matrix
	lmax    float64 // largest eigenvalue of sigma
	a       []float64
	b       float64
	project projection
}

type qpResult struct {
	x          []float64
	iterations int
	residual   float64
	converged  bool
}

const innerIterations = 500

// solve runs an augmented Lagrangian method on the equality constraint. Each
// subproblem is solved by accelerated projected gradient (FISTA) onto C.
// maxIter bounds the total number of gradient steps; tol bounds both the
// final step length (relative to the size of x) and the constraint residual
// (relative to 1+|b|).
func (p *qpProblem) solve(x0 []float64, maxIter int, tol float64) qpResult {
	n := len(x0)
	aa := dot(p.a, p.a)
	if aa == 0 {
		aa = 1
	}
	lmax := p.lmax
	if lmax <= 0 {
		lmax = 1e-12
	}
	rho := 10 * lmax / aa
	step := 1 / (2*lmax + rho*aa)
	feasTol := math.Max(tol, 1e-10) * 100 * (1 + math.Abs(p.b))

	x := append([]float64(nil), x0...)
	p.project(x)

	var lambda float64
	res := qpResult{}
	y := make([]float64, n)
	next := make([]float64, n)

	for res.iterations < maxIter {
		copy(y, x)
		tk := 1.0
		innerConverged := false

		for inner := 0; inner < innerIterations && res.iterations < maxIter; inner++ {
			res.iterations++

			sy := p.sigma.MulVec(y)
			mult := lambda + rho*(dot(p.a, y)-p.b)
			for i := range next {
				next[i] = y[i] - step*(2*sy[i]+mult*p.a[i])
			}
			p.project(next)

			dx := maxAbsDiff(next, x)

			// Gradient-based restart keeps the momentum from overshooting on
			// strongly convex problems.
			var restart float64
			for i := range y {
				restart += (y[i] - next[i]) * (next[i] - x[i])
			}
			if restart > 0 {
				tk = 1
			}
			tNext := (1 + math.Sqrt(1+4*tk*tk)) / 2
			beta := (tk - 1) / tNext
			for i := range y {
				y[i] = next[i] + beta*(next[i]-x[i])
			}
			copy(x, next)
			tk = tNext

			if dx <= tol*math.Max(1, maxAbs(x)) {
				innerConverged = true
				break
			}
		}

		r := dot(p.a, x) - p.b
		res.residual = r
		if innerConverged && math.Abs(r) <= feasTol {
			res.converged = true
			break
		}
		lambda += rho * r
	}

	res.x = x
	return res
}
