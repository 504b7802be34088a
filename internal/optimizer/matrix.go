package optimizer

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"quantlab/internal/domain"
)

// Matrix is a dense row-major square matrix.
type Matrix [][]float64

// NewMatrix allocates an n×n zero matrix.
func NewMatrix(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}

// MulVec returns m·v.
func (m Matrix) MulVec(v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		var s float64
		for j, x := range row {
			s += x * v[j]
		}
		out[i] = s
	}
	return out
}

// QuadForm returns v'·m·v.
func (m Matrix) QuadForm(v []float64) float64 {
	return dot(v, m.MulVec(v))
}

// IsSymmetric reports whether m is square and symmetric within tol.
func (m Matrix) IsSymmetric(tol float64) bool {
	for i := range m {
		if len(m[i]) != len(m) {
			return false
		}
		for j := 0; j < i; j++ {
			if math.Abs(m[i][j]-m[j][i]) > tol {
				return false
			}
		}
	}
	return true
}

// Finite reports whether every element of m is a finite number.
func (m Matrix) Finite() bool {
	for _, row := range m {
		for _, x := range row {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Estimation
// ---------------------------------------------------------------------------

// Moments returns the annualised mean return vector and the annualised
// sample covariance matrix of aligned daily return columns.
func Moments(returns [][]float64) ([]float64, Matrix, error) {
	n := len(returns)
	mu := make([]float64, n)
	cov := NewMatrix(n)

	for i, r := range returns {
		m, err := stats.Mean(r)
		if err != nil {
			return nil, nil, domain.Dataf("mean of return series %d: %v", i, err)
		}
		mu[i] = m * domain.TradingDaysPerYear
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c, err := stats.Covariance(returns[i], returns[j])
			if err != nil {
				return nil, nil, domain.Dataf("covariance of series %d and %d: %v", i, j, err)
			}
			c *= domain.TradingDaysPerYear
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return mu, cov, nil
}

// ---------------------------------------------------------------------------
// Eigenvalues
// ---------------------------------------------------------------------------

const (
	jacobiMaxSweeps = 100
	jacobiEpsilon   = 1e-24
)

// SymmetricEigenvalues returns the eigenvalues of the symmetric matrix m in
// ascending order using cyclic Jacobi rotations.
func SymmetricEigenvalues(m Matrix) []float64 {
	a := m.Clone()
	n := len(a)

	var scale float64
	for i := range a {
		for j := range a[i] {
			scale += a[i][j] * a[i][j]
		}
	}

	for sweep := 0; sweep < jacobiMaxSweeps; sweep++ {
		var off float64
		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				off += a[p][q] * a[p][q]
			}
		}
		if off <= jacobiEpsilon*scale || off == 0 {
			break
		}

		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				if a[p][q] == 0 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := 1 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				if theta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for k := 0; k < n; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < n; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
			}
		}
	}

	eig := make([]float64, n)
	for i := range eig {
		eig[i] = a[i][i]
	}
	sort.Float64s(eig)
	return eig
}

// ConditionNumber returns λmax/λmin of a symmetric matrix, +Inf when the
// smallest eigenvalue is not positive.
func ConditionNumber(m Matrix) float64 {
	eig := SymmetricEigenvalues(m)
	if len(eig) == 0 {
		return math.Inf(1)
	}
	lo, hi := eig[0], eig[len(eig)-1]
	if lo <= 0 {
		return math.Inf(1)
	}
	return hi / lo
}

// ---------------------------------------------------------------------------
// Vector helpers
// ---------------------------------------------------------------------------

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm2(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

func maxAbsDiff(a, b []float64) float64 {
	var d float64
	for i := range a {
		if x := math.Abs(a[i] - b[i]); x > d {
			d = x
		}
	}
	return d
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
