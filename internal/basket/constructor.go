package basket

import (
	"fmt"
	"math"
	"sort"

	"altfade/internal/market"
)

// Config holds basket construction parameters.
type Config struct {
	LongGross      float64 `yaml:"long_gross" json:"long_gross"`             // long-leg gross target (default 0.5)
	ShortGross     float64 `yaml:"short_gross" json:"short_gross"`           // short-leg gross target (default 0.5)
	TopN           int     `yaml:"top_n" json:"top_n"`                       // short-leg constituent count (default 20)
	MinCandidates  int     `yaml:"min_candidates" json:"min_candidates"`     // shortfall threshold (default 5)
	MinMarketCap   float64 `yaml:"min_market_cap" json:"min_market_cap"`     // USD floor
	MinVolume      float64 `yaml:"min_volume" json:"min_volume"`             // avg daily USD volume floor
	VolCeiling     float64 `yaml:"vol_ceiling" json:"vol_ceiling"`           // annualized vol ceiling (default 1.0)
	CorrFloor      float64 `yaml:"corr_floor" json:"corr_floor"`             // trailing correlation floor vs majors (default 0.3)
	MomentumBand   float64 `yaml:"momentum_band" json:"momentum_band"`       // symmetric trailing-return band (default 0.5)
	WeightCap      float64 `yaml:"weight_cap" json:"weight_cap"`             // single-weight cap, fraction of leg gross (default 0.10)
	VolWindowDays  int     `yaml:"vol_window_days" json:"vol_window_days"`   // trailing vol window (default 30)
	CorrWindowDays int     `yaml:"corr_window_days" json:"corr_window_days"` // correlation window (default 60)
	MomentumDays   int     `yaml:"momentum_days" json:"momentum_days"`       // momentum filter horizon (default 30)
	BetaWindowDays int     `yaml:"beta_window_days" json:"beta_window_days"` // beta regression window (default 60)
	MinBetaObs     int     `yaml:"min_beta_obs" json:"min_beta_obs"`         // min aligned rows for a beta fit (default 20)
	RidgeLambda    float64 `yaml:"ridge_lambda" json:"ridge_lambda"`         // relative ridge penalty (default 1e-3)
	BetaClamp      float64 `yaml:"beta_clamp" json:"beta_clamp"`             // |beta| ceiling (default 3.0)
	WinsorQuantile float64 `yaml:"winsor_quantile" json:"winsor_quantile"`   // per-tail winsorization (default 0.05)
	BetaTolerance  float64 `yaml:"beta_tolerance" json:"beta_tolerance"`     // residual beta tolerance (default 0.05)
}

// DefaultConfig returns the default construction parameters.
func DefaultConfig() Config {
	return Config{
		LongGross:      0.5,
		ShortGross:     0.5,
		TopN:           20,
		MinCandidates:  5,
		MinMarketCap:   50e6,
		MinVolume:      1e6,
		VolCeiling:     1.0,
		CorrFloor:      0.3,
		MomentumBand:   0.5,
		WeightCap:      0.10,
		VolWindowDays:  30,
		CorrWindowDays: 60,
		MomentumDays:   30,
		BetaWindowDays: 60,
		MinBetaObs:     20,
		RidgeLambda:    1e-3,
		BetaClamp:      3.0,
		WinsorQuantile: 0.05,
		BetaTolerance:  0.05,
	}
}

// Constructor builds beta-neutral basket snapshots for rebalance dates.
type Constructor struct {
	cfg      Config
	universe market.Universe
	solvers  []Solver
}

// NewConstructor creates a constructor with the standard solver chain:
// exact square solve, constrained least squares, proportional fallback.
func NewConstructor(cfg Config, universe market.Universe) *Constructor {
	return &Constructor{
		cfg:      cfg,
		universe: universe,
		solvers: []Solver{
			exactSolver{},
			constrainedSolver{},
			proportionalSolver{},
		},
	}
}

// candidate carries per-asset screening values through the filter chain.
type candidate struct {
	asset  string
	volume float64
	vol    float64 // annualized
	betas  []float64
}

// Build constructs the snapshot for date index i using only data at or
// before i. A thin eligible set yields a smaller, flagged basket; an empty
// one yields a flat snapshot. Neither is an error.
func (c *Constructor) Build(p *market.Panel, i int) (*Snapshot, error) {
	snap := &Snapshot{
		Date:       p.Date(i),
		References: c.universe.References(),
	}
	if len(snap.References) == 0 {
		return nil, fmt.Errorf("universe has no reference assets")
	}

	eligible := c.screen(p, i)
	sort.Slice(eligible, func(a, b int) bool {
		if eligible[a].volume != eligible[b].volume {
			return eligible[a].volume > eligible[b].volume
		}
		return eligible[a].asset < eligible[b].asset
	})
	if len(eligible) > c.cfg.TopN {
		eligible = eligible[:c.cfg.TopN]
	}

	if len(eligible) == 0 {
		snap.Notes = append(snap.Notes, "no eligible short candidates: flat")
		return snap, nil
	}
	if len(eligible) < c.cfg.MinCandidates {
		snap.Shortfall = true
		snap.Notes = append(snap.Notes,
			fmt.Sprintf("eligible candidates %d below minimum %d", len(eligible), c.cfg.MinCandidates))
	}

	// Drop candidates whose beta cannot be estimated; they cannot be
	// neutralized so they cannot be held.
	kept := eligible[:0]
	for _, cand := range eligible {
		betas, err := c.estimateBetas(p, cand.asset, i)
		if err != nil {
			snap.Notes = append(snap.Notes, fmt.Sprintf("dropped %s: %v", cand.asset, err))
			continue
		}
		cand.betas = betas
		kept = append(kept, cand)
	}
	if len(kept) == 0 {
		snap.Notes = append(snap.Notes, "no candidates with estimable beta: flat")
		snap.Constituents = nil
		return snap, nil
	}
	// The beta filter can thin the basket below the minimum after the
	// eligibility count passed it.
	if !snap.Shortfall && len(kept) < c.cfg.MinCandidates {
		snap.Shortfall = true
		snap.Notes = append(snap.Notes,
			fmt.Sprintf("candidates with estimable beta %d below minimum %d", len(kept), c.cfg.MinCandidates))
	}

	shortWeights := c.inverseVolWeights(kept)

	// Aggregate short-leg beta exposure per reference dimension.
	k := len(snap.References)
	exposure := make([]float64, k)
	for idx, cand := range kept {
		w := -shortWeights[idx] // short weights are negative
		for j := 0; j < k; j++ {
			exposure[j] += w * cand.betas[j]
		}
	}

	refMatrix, err := c.referenceBetaMatrix(p, i)
	if err != nil {
		return nil, fmt.Errorf("reference beta matrix: %w", err)
	}

	pr := problem{a: refMatrix, exposure: exposure, gross: c.cfg.LongGross, tol: c.cfg.BetaTolerance}
	longWeights, solvedBy, solveNotes := c.solveLong(pr)
	snap.SolvedBy = solvedBy
	snap.Notes = append(snap.Notes, solveNotes...)
	snap.ResidualBeta = residualBeta(pr, longWeights)
	snap.NeutralityAchieved = maxAbs(snap.ResidualBeta) <= c.cfg.BetaTolerance

	for idx, cand := range kept {
		snap.Constituents = append(snap.Constituents, Constituent{
			Asset:  cand.asset,
			Weight: -shortWeights[idx],
			Side:   SideShort,
			Betas:  cand.betas,
		})
	}
	for j, ref := range snap.References {
		if longWeights[j] == 0 {
			continue
		}
		snap.Constituents = append(snap.Constituents, Constituent{
			Asset:  ref,
			Weight: longWeights[j],
			Side:   SideLong,
		})
	}
	return snap, nil
}

// screen applies the eligibility filters in order: market cap, volume,
// volatility ceiling, correlation floor, momentum band. Reference assets and
// flagged categories are excluded upstream by Universe.Candidates.
func (c *Constructor) screen(p *market.Panel, i int) []candidate {
	var out []candidate
	for _, asset := range c.universe.Candidates() {
		bar, ok := p.Bar(asset, i)
		if !ok || bar.MarketCap < c.cfg.MinMarketCap {
			continue
		}
		avgVol, ok := avgVolume(p, asset, i, c.cfg.VolWindowDays)
		if !ok || avgVol < c.cfg.MinVolume {
			continue
		}
		vol, ok := trailingVol(p, asset, i, c.cfg.VolWindowDays)
		if !ok || vol > c.cfg.VolCeiling {
			continue
		}
		corr, ok := refCorrelation(p, c.universe, asset, i, c.cfg.CorrWindowDays)
		if !ok || corr < c.cfg.CorrFloor {
			continue
		}
		mom, ok := p.Return(asset, i, c.cfg.MomentumDays)
		if !ok || math.Abs(mom) > c.cfg.MomentumBand {
			continue
		}
		out = append(out, candidate{asset: asset, volume: avgVol, vol: vol})
	}
	return out
}

// inverseVolWeights assigns leg weights proportional to 1/vol, caps any
// single weight at the configured fraction of leg gross, and renormalizes to
// the short gross target. Weights returned are positive magnitudes.
func (c *Constructor) inverseVolWeights(cands []candidate) []float64 {
	n := len(cands)
	raw := make([]float64, n)
	var sum float64
	for i, cand := range cands {
		v := cand.vol
		if v < 1e-6 {
			v = 1e-6
		}
		raw[i] = 1 / v
		sum += raw[i]
	}
	weights := make([]float64, n)
	for i := range raw {
		weights[i] = c.cfg.ShortGross * raw[i] / sum
	}

	capLimit := c.cfg.WeightCap * c.cfg.ShortGross
	if capLimit <= 0 || float64(n)*capLimit < c.cfg.ShortGross {
		// Cap infeasible for this few names: equal-weight the leg.
		for i := range weights {
			weights[i] = c.cfg.ShortGross / float64(n)
		}
		return weights
	}

	// Cap and redistribute until stable.
	for iter := 0; iter < n; iter++ {
		var capped, free float64
		anyCapped := false
		for _, w := range weights {
			if w >= capLimit {
				capped += capLimit
			} else {
				free += w
			}
		}
		target := c.cfg.ShortGross - capped
		if free <= 0 {
			break
		}
		scale := target / free
		changed := false
		for i, w := range weights {
			if w >= capLimit {
				if w != capLimit {
					weights[i] = capLimit
					changed = true
				}
				anyCapped = true
				continue
			}
			nw := w * scale
			if nw > capLimit {
				nw = capLimit
				changed = true
			}
			if nw != w {
				changed = true
			}
			weights[i] = nw
		}
		if !changed || !anyCapped {
			break
		}
	}
	return weights
}

// avgVolume is the mean traded volume over the trailing window.
func avgVolume(p *market.Panel, asset string, i, window int) (float64, bool) {
	var sum float64
	var n int
	for j := i - window + 1; j <= i; j++ {
		if j < 0 {
			continue
		}
		if b, ok := p.Bar(asset, j); ok {
			sum += b.Volume
			n++
		}
	}
	if n < window/2 || n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
