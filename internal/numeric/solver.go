// Package numeric isolates the linear-algebra needed by learned estimators
// behind a small solver interface, so the regression backend is swappable and
// testable independent of pool/controller logic.
package numeric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// #region interface

// Solver fits x to minimize ||Ax - b||² subject to lo <= x_i <= hi.
type Solver interface {
	Solve(a [][]float64, b []float64, lo, hi float64) ([]float64, error)
}

// #endregion interface

// #region projected-gradient

// ProjectedGradient is a deterministic box-constrained least-squares solver:
// plain gradient steps on the residual, clipped to the bounds after each step.
// The step size 1/||A||_F² bounds the largest eigenvalue of AᵀA, so the
// iteration cannot diverge.
type ProjectedGradient struct {
	MaxIterations int
	Tolerance     float64
}

// NewProjectedGradient returns a solver with stock iteration limits.
func NewProjectedGradient() *ProjectedGradient {
	return &ProjectedGradient{MaxIterations: 500, Tolerance: 1e-7}
}

// Solve implements Solver.
func (pg *ProjectedGradient) Solve(rows [][]float64, targets []float64, lo, hi float64) ([]float64, error) {
	m := len(rows)
	if m == 0 {
		return nil, fmt.Errorf("numeric: no rows")
	}
	n := len(rows[0])
	if n == 0 {
		return nil, fmt.Errorf("numeric: no columns")
	}
	if len(targets) != m {
		return nil, fmt.Errorf("numeric: %d rows but %d targets", m, len(targets))
	}
	if hi < lo {
		return nil, fmt.Errorf("numeric: bounds inverted (%v > %v)", lo, hi)
	}

	flat := make([]float64, 0, m*n)
	sumSq := 0.0
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("numeric: row %d has %d columns, want %d", i, len(row), n)
		}
		for _, v := range row {
			sumSq += v * v
		}
		flat = append(flat, row...)
	}

	x := mat.NewVecDense(n, nil)
	mid := (lo + hi) / 2
	for i := 0; i < n; i++ {
		x.SetVec(i, mid)
	}
	if sumSq == 0 {
		return clipVec(x, lo, hi), nil
	}

	a := mat.NewDense(m, n, flat)
	b := mat.NewVecDense(m, append([]float64(nil), targets...))
	step := 1.0 / sumSq

	resid := mat.NewVecDense(m, nil)
	grad := mat.NewVecDense(n, nil)
	for iter := 0; iter < pg.MaxIterations; iter++ {
		resid.MulVec(a, x)
		resid.SubVec(resid, b)
		grad.MulVec(a.T(), resid)

		maxDelta := 0.0
		for i := 0; i < n; i++ {
			next := clip(x.AtVec(i)-step*grad.AtVec(i), lo, hi)
			if d := math.Abs(next - x.AtVec(i)); d > maxDelta {
				maxDelta = d
			}
			x.SetVec(i, next)
		}
		if maxDelta < pg.Tolerance {
			break
		}
	}
	return clipVec(x, lo, hi), nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clipVec(x *mat.VecDense, lo, hi float64) []float64 {
	out := make([]float64, x.Len())
	for i := range out {
		out[i] = clip(x.AtVec(i), lo, hi)
	}
	return out
}

// #endregion projected-gradient
