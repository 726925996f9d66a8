package basket

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"altfade/internal/market"
)

// estimateBetas runs a ridge-regularized regression of the asset's daily
// returns against the reference assets' daily returns over the trailing beta
// window. Returns are winsorized per column before the solve and the
// resulting coefficients clamped, so thin or outlier-ridden histories cannot
// produce explosive betas.
func (c *Constructor) estimateBetas(p *market.Panel, asset string, i int) ([]float64, error) {
	refs := c.universe.References()
	ys, rows := p.AlignedReturns(asset, refs, i, c.cfg.BetaWindowDays)
	if len(ys) < c.cfg.MinBetaObs {
		return nil, &market.InsufficientDataError{
			What: fmt.Sprintf("beta window for %s", asset),
			Date: p.Date(i),
			Need: c.cfg.MinBetaObs,
			Have: len(ys),
		}
	}

	y := winsorize(ys, c.cfg.WinsorQuantile)
	cols := make([][]float64, len(refs))
	for j := range refs {
		col := make([]float64, len(rows))
		for r := range rows {
			col[r] = rows[r][j]
		}
		cols[j] = winsorize(col, c.cfg.WinsorQuantile)
	}

	n := len(y)
	k := len(refs)
	x := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		x.SetCol(j, cols[j])
	}

	// Solve (XᵀX + λI) β = Xᵀy. The penalty is scaled by the mean diagonal
	// of XᵀX so the shrinkage is invariant to return magnitudes.
	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	var trace float64
	for j := 0; j < k; j++ {
		trace += xtx.At(j, j)
	}
	lambda := c.cfg.RidgeLambda * (trace/float64(k) + 1e-12)
	for j := 0; j < k; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+lambda)
	}
	xty := make([]float64, k)
	for j := 0; j < k; j++ {
		var s float64
		for r := 0; r < n; r++ {
			s += x.At(r, j) * y[r]
		}
		xty[j] = s
	}

	var chol mat.Cholesky
	if !chol.Factorize(&xtx) {
		return nil, &InfeasibleError{Reason: "ridge normal equations not positive definite"}
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, mat.NewVecDense(k, xty)); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	out := make([]float64, k)
	for j := 0; j < k; j++ {
		out[j] = clamp(beta.AtVec(j), -c.cfg.BetaClamp, c.cfg.BetaClamp)
	}
	return out, nil
}

// referenceBetaMatrix estimates each reference asset's own betas to the
// reference dimensions, giving the A matrix of the neutrality system. Rows
// are beta dimensions, columns are long-leg reference positions.
func (c *Constructor) referenceBetaMatrix(p *market.Panel, i int) (*mat.Dense, error) {
	refs := c.universe.References()
	k := len(refs)
	a := mat.NewDense(k, k, nil)
	for r, ref := range refs {
		betas, err := c.estimateBetas(p, ref, i)
		if err != nil {
			return nil, err
		}
		for j := 0; j < k; j++ {
			a.Set(j, r, betas[j])
		}
	}
	return a, nil
}

// winsorize clamps values outside the [q, 1-q] empirical quantiles.
func winsorize(xs []float64, q float64) []float64 {
	if q <= 0 || len(xs) < 3 {
		return append([]float64(nil), xs...)
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	lo := stat.Quantile(q, stat.Empirical, sorted, nil)
	hi := stat.Quantile(1-q, stat.Empirical, sorted, nil)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = clamp(x, lo, hi)
	}
	return out
}

// trailingVol is the sample std of daily returns over the vol window,
// annualized with a 365-day year.
func trailingVol(p *market.Panel, asset string, i, window int) (float64, bool) {
	rets := p.DailyReturns(asset, i, window)
	if len(rets) < window/2 || len(rets) < 2 {
		return 0, false
	}
	return stat.StdDev(rets, nil) * math.Sqrt(365), true
}

// refCorrelation is the trailing correlation of the asset's daily returns
// against the equal-weight reference index.
func refCorrelation(p *market.Panel, universe market.Universe, asset string, i, window int) (float64, bool) {
	refs := universe.References()
	var xs, ys []float64
	start := i - window
	if start < 1 {
		start = 1
	}
	for j := start; j <= i; j++ {
		ra, ok := p.Return(asset, j, 1)
		if !ok {
			continue
		}
		var sum float64
		var n int
		for _, ref := range refs {
			if rr, ok := p.Return(ref, j, 1); ok {
				sum += rr
				n++
			}
		}
		if n == 0 {
			continue
		}
		xs = append(xs, ra)
		ys = append(ys, sum/float64(n))
	}
	if len(xs) < window/2 || len(xs) < 3 {
		return 0, false
	}
	return stat.Correlation(xs, ys, nil), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
