package basket

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// problem is one neutrality solve: choose non-negative long-leg weights v
// with sum(v) = gross such that a·v offsets the short leg's aggregated beta
// exposure per reference dimension.
type problem struct {
	a        *mat.Dense // reference beta matrix, dimensions × positions
	exposure []float64  // short-leg beta exposure per dimension
	gross    float64    // long-leg gross target
	tol      float64
}

// Solver is one strategy in the neutrality fallback chain. Solvers return a
// typed reason on failure so the chain can be reordered or trimmed without
// touching calling code.
type Solver interface {
	Name() string
	Solve(pr problem) ([]float64, error)
}

// exactSolver solves the square system a·v = -exposure directly and accepts
// only when the solution is already non-negative and on the gross budget.
type exactSolver struct{}

func (exactSolver) Name() string { return "exact" }

func (exactSolver) Solve(pr problem) ([]float64, error) {
	k := len(pr.exposure)
	rhs := mat.NewVecDense(k, nil)
	for j, e := range pr.exposure {
		rhs.SetVec(j, -e)
	}
	var v mat.VecDense
	if err := v.SolveVec(pr.a, rhs); err != nil {
		return nil, &InfeasibleError{Reason: fmt.Sprintf("singular reference beta matrix: %v", err)}
	}
	out := make([]float64, k)
	var sum float64
	for j := 0; j < k; j++ {
		out[j] = v.AtVec(j)
		if out[j] < -pr.tol {
			return nil, &InfeasibleError{Reason: "exact solution has negative reference weight"}
		}
		if out[j] < 0 {
			out[j] = 0
		}
		sum += out[j]
	}
	budget := math.Max(pr.tol, pr.tol*pr.gross)
	if math.Abs(sum-pr.gross) > budget {
		return nil, &InfeasibleError{Reason: fmt.Sprintf("exact solution gross %.4f off target %.4f", sum, pr.gross)}
	}
	// Tiny rescale inside tolerance to land exactly on the budget.
	if sum > 0 {
		for j := range out {
			out[j] *= pr.gross / sum
		}
	}
	return out, nil
}

// constrainedSolver minimizes the beta residual in the nullspace of the
// gross-budget constraint, then clips negative weights and renormalizes.
type constrainedSolver struct{}

func (constrainedSolver) Name() string { return "constrained_lstsq" }

func (constrainedSolver) Solve(pr problem) ([]float64, error) {
	k := len(pr.exposure)
	if k == 1 {
		// Degenerate nullspace: the budget fixes the single weight.
		return []float64{pr.gross}, nil
	}

	// v = v0 + Z·u with v0 uniform on the budget and Z spanning sum(x)=0.
	v0 := make([]float64, k)
	for j := range v0 {
		v0[j] = pr.gross / float64(k)
	}
	z := mat.NewDense(k, k-1, nil)
	for m := 0; m < k-1; m++ {
		z.Set(m, m, 1)
		z.Set(k-1, m, -1)
	}

	var az mat.Dense
	az.Mul(pr.a, z)

	rhs := mat.NewVecDense(k, nil)
	for j := 0; j < k; j++ {
		var av0 float64
		for r := 0; r < k; r++ {
			av0 += pr.a.At(j, r) * v0[r]
		}
		rhs.SetVec(j, -(pr.exposure[j] + av0))
	}

	var qr mat.QR
	qr.Factorize(&az)
	var u mat.VecDense
	if err := qr.SolveVecTo(&u, false, rhs); err != nil {
		return nil, &InfeasibleError{Reason: fmt.Sprintf("least squares failed: %v", err)}
	}

	out := make([]float64, k)
	var sum float64
	for j := 0; j < k; j++ {
		var zu float64
		for m := 0; m < k-1; m++ {
			zu += z.At(j, m) * u.AtVec(m)
		}
		out[j] = v0[j] + zu
		if out[j] < 0 {
			out[j] = 0
		}
		sum += out[j]
	}
	if sum <= 0 {
		return nil, &InfeasibleError{Reason: "all reference weights clipped to zero"}
	}
	for j := range out {
		out[j] *= pr.gross / sum
	}
	return out, nil
}

// proportionalSolver allocates the budget by nominal target weights. Last
// resort: always succeeds, never neutral by construction.
type proportionalSolver struct {
	nominal []float64 // per reference, sums to 1; nil means equal
}

func (proportionalSolver) Name() string { return "proportional_fallback" }

func (s proportionalSolver) Solve(pr problem) ([]float64, error) {
	k := len(pr.exposure)
	out := make([]float64, k)
	if len(s.nominal) == k {
		for j := range out {
			out[j] = pr.gross * s.nominal[j]
		}
		return out, nil
	}
	for j := range out {
		out[j] = pr.gross / float64(k)
	}
	return out, nil
}

// solveLong runs the solver chain and returns the long-leg weights, the name
// of the solver that produced them, and notes for every strategy that was
// tried and failed.
func (c *Constructor) solveLong(pr problem) ([]float64, string, []string) {
	var notes []string
	for _, s := range c.solvers {
		v, err := s.Solve(pr)
		if err != nil {
			notes = append(notes, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		return v, s.Name(), notes
	}
	// The chain always ends in the proportional solver; unreachable unless
	// the chain was misconfigured.
	v, _ := proportionalSolver{}.Solve(pr)
	return v, "proportional_fallback", notes
}

// residualBeta is a·v + exposure, the combined position's remaining beta per
// reference dimension.
func residualBeta(pr problem, v []float64) []float64 {
	k := len(pr.exposure)
	out := make([]float64, k)
	for j := 0; j < k; j++ {
		var av float64
		for r := 0; r < k; r++ {
			av += pr.a.At(j, r) * v[r]
		}
		out[j] = av + pr.exposure[j]
	}
	return out
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
