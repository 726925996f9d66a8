package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"altfade/internal/market"
)

// Config holds the feature windows. All horizons are in trading days.
type Config struct {
	ShortHorizonDays int `yaml:"short_horizon_days" json:"short_horizon_days"` // breadth/dispersion return horizon
	MomentumDays     int `yaml:"momentum_days" json:"momentum_days"`           // cross-sectional momentum horizon
	VolWindowDays    int `yaml:"vol_window_days" json:"vol_window_days"`       // realized vol window
	SkewSmoothDays   int `yaml:"skew_smooth_days" json:"skew_smooth_days"`     // funding skew smoothing
	HeatShortDays    int `yaml:"heat_short_days" json:"heat_short_days"`       // funding heat fast window
	HeatLongDays     int `yaml:"heat_long_days" json:"heat_long_days"`         // funding heat slow window
	LeverageDays     int `yaml:"leverage_days" json:"leverage_days"`           // open-interest-risk proxy window
	FlowWindowDays   int `yaml:"flow_window_days" json:"flow_window_days"`     // liquidity flow window
	ZScoreWindow     int `yaml:"zscore_window" json:"zscore_window"`           // trailing normalization window (burn-in)
}

// DefaultConfig returns the default feature windows.
func DefaultConfig() Config {
	return Config{
		ShortHorizonDays: 7,
		MomentumDays:     14,
		VolWindowDays:    20,
		SkewSmoothDays:   7,
		HeatShortDays:    7,
		HeatLongDays:     30,
		LeverageDays:     14,
		FlowWindowDays:   20,
		ZScoreWindow:     60,
	}
}

// Engine computes the per-date feature vector for a fixed universe. Raw
// features are pure functions of the panel up to and including the requested
// date index; normalization state lives in a bounded window arena, so the
// engine must be advanced in strictly increasing date order.
type Engine struct {
	cfg      Config
	universe market.Universe
	norm     *market.Arena
}

// NewEngine creates a feature engine for the given universe.
func NewEngine(cfg Config, universe market.Universe) *Engine {
	return &Engine{
		cfg:      cfg,
		universe: universe,
		norm:     market.NewArena(cfg.ZScoreWindow),
	}
}

// Compute returns the z-scored feature vector for date index i, using only
// data at or before i. During burn-in (raw history or normalization window
// not yet filled) it returns an InsufficientDataError; burn-in dates are
// never filled with defaults.
func (e *Engine) Compute(p *market.Panel, i int) (Vector, error) {
	raw, err := e.Raw(p, i)
	if err != nil {
		return nil, err
	}

	// Normalize against the trailing window, excluding today, then admit
	// today's raw value for future dates.
	out := make(Vector, len(raw))
	ready := true
	for _, name := range Names() {
		w := e.norm.Window(name)
		if !w.Full() {
			ready = false
		} else {
			mean := w.Mean()
			std := w.Std()
			if std < 1e-12 || math.IsNaN(std) {
				out[name] = 0
			} else {
				out[name] = (raw[name] - mean) / std
			}
		}
		w.Push(raw[name])
	}
	if !ready {
		return nil, &market.InsufficientDataError{
			What: "feature normalization",
			Date: p.Date(i),
			Need: e.cfg.ZScoreWindow,
			Have: e.norm.Window(Breadth).Len() - 1,
		}
	}
	return out, nil
}

// Raw computes the un-normalized feature vector for date index i. Exported
// for tests and diagnostics; production consumers use Compute.
func (e *Engine) Raw(p *market.Panel, i int) (Vector, error) {
	date := p.Date(i)

	minHistory := e.cfg.HeatLongDays + e.cfg.SkewSmoothDays
	if h := e.cfg.MomentumDays; h > minHistory {
		minHistory = h
	}
	if h := 2 * e.cfg.FlowWindowDays; h > minHistory {
		minHistory = h
	}
	if i < minHistory {
		return nil, &market.InsufficientDataError{What: "raw features", Date: date, Need: minHistory, Have: i}
	}

	shortRets := e.basketReturns(p, i, e.cfg.ShortHorizonDays)
	if len(shortRets) == 0 {
		return nil, &market.InsufficientDataError{What: "basket returns", Date: date, Need: 1, Have: 0}
	}

	v := make(Vector, len(Names()))
	v[Breadth] = fractionPositive(shortRets)
	v[Dispersion] = interquartile(shortRets)

	domNow, ok := e.dominance(p, i)
	if !ok {
		return nil, &market.InsufficientDataError{What: "dominance", Date: date, Need: 1, Have: 0}
	}
	domThen, ok := e.dominance(p, i-e.cfg.ShortHorizonDays)
	if !ok {
		return nil, &market.InsufficientDataError{What: "dominance history", Date: date, Need: 1, Have: 0}
	}
	v[DominanceShift] = domNow - domThen

	skew, ok := e.smoothedSkew(p, i, e.cfg.SkewSmoothDays)
	if !ok {
		return nil, &market.InsufficientDataError{What: "funding skew", Date: date, Need: 1, Have: 0}
	}
	v[FundingSkew] = skew

	fast, okFast := e.smoothedSkew(p, i, e.cfg.HeatShortDays)
	slow, okSlow := e.smoothedSkew(p, i, e.cfg.HeatLongDays)
	if !okFast || !okSlow {
		return nil, &market.InsufficientDataError{What: "funding heat", Date: date, Need: 1, Have: 0}
	}
	v[FundingHeat] = fast - slow

	v[OpenInterestRisk] = e.leverageHeat(p, i)
	v[LiquidityFlow] = e.liquidityFlow(p, i)
	v[VolSpread] = e.volSpread(p, i)

	mom, ok := e.crossMomentum(p, i)
	if !ok {
		return nil, &market.InsufficientDataError{What: "cross momentum", Date: date, Need: 1, Have: 0}
	}
	v[CrossMomentum] = mom

	return v, nil
}

// basketReturns collects horizon returns for every basket asset with both
// endpoints present.
func (e *Engine) basketReturns(p *market.Panel, i, horizon int) []float64 {
	var out []float64
	for _, asset := range e.universe.Candidates() {
		if r, ok := p.Return(asset, i, horizon); ok {
			out = append(out, r)
		}
	}
	return out
}

// dominance is reference market cap over total universe market cap at index i.
func (e *Engine) dominance(p *market.Panel, i int) (float64, bool) {
	var refCap, totalCap float64
	for _, a := range e.universe.Assets {
		b, ok := p.Bar(a.Symbol, i)
		if !ok {
			continue
		}
		totalCap += b.MarketCap
		if a.Category == market.CategoryReference {
			refCap += b.MarketCap
		}
	}
	if totalCap <= 0 {
		return 0, false
	}
	return refCap / totalCap, true
}

// rawSkew is median basket funding minus mean reference funding at index i.
// Assets with absent funding are excluded, never imputed.
func (e *Engine) rawSkew(p *market.Panel, i int) (float64, bool) {
	var basketRates []float64
	for _, asset := range e.universe.Candidates() {
		if f, ok := p.Funding(asset, i); ok {
			basketRates = append(basketRates, f)
		}
	}
	var refSum float64
	var refN int
	for _, ref := range e.universe.References() {
		if f, ok := p.Funding(ref, i); ok {
			refSum += f
			refN++
		}
	}
	if len(basketRates) == 0 || refN == 0 {
		return 0, false
	}
	return median(basketRates) - refSum/float64(refN), true
}

// smoothedSkew averages the raw skew over the trailing window days. Days
// where the skew is undefined are skipped; at least one defined day is
// required.
func (e *Engine) smoothedSkew(p *market.Panel, i, window int) (float64, bool) {
	var sum float64
	var n int
	for j := i - window + 1; j <= i; j++ {
		if j < 0 {
			continue
		}
		if s, ok := e.rawSkew(p, j); ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// leverageHeat proxies open-interest risk as the rolling mean of absolute
// funding across the whole universe. No open-interest field exists in the
// data model; funding magnitude is the available leverage-buildup signal.
func (e *Engine) leverageHeat(p *market.Panel, i int) float64 {
	var sum float64
	var n int
	for j := i - e.cfg.LeverageDays + 1; j <= i; j++ {
		if j < 0 {
			continue
		}
		for _, asset := range e.universe.Symbols() {
			if f, ok := p.Funding(asset, j); ok {
				sum += math.Abs(f)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// liquidityFlow is the standardized change of rolling basket volume: recent
// window average minus prior window average, scaled by the volume std over
// both windows.
func (e *Engine) liquidityFlow(p *market.Panel, i int) float64 {
	w := e.cfg.FlowWindowDays
	daily := make([]float64, 0, 2*w)
	for j := i - 2*w + 1; j <= i; j++ {
		if j < 0 {
			continue
		}
		var total float64
		for _, asset := range e.universe.Candidates() {
			if b, ok := p.Bar(asset, j); ok {
				total += b.Volume
			}
		}
		daily = append(daily, total)
	}
	if len(daily) < 2*w {
		return 0
	}
	recent := mean(daily[w:])
	prior := mean(daily[:w])
	sd := stat.StdDev(daily, nil)
	if sd < 1e-12 {
		return 0
	}
	return (recent - prior) / sd
}

// volSpread is realized basket-index volatility minus reference-index
// volatility over the vol window, from equal-weight daily index returns.
func (e *Engine) volSpread(p *market.Panel, i int) float64 {
	basketVol := indexVol(p, e.universe.Candidates(), i, e.cfg.VolWindowDays)
	refVol := indexVol(p, e.universe.References(), i, e.cfg.VolWindowDays)
	if math.IsNaN(basketVol) || math.IsNaN(refVol) {
		return 0
	}
	return basketVol - refVol
}

// crossMomentum is the median basket multi-day return minus the mean
// reference multi-day return.
func (e *Engine) crossMomentum(p *market.Panel, i int) (float64, bool) {
	rets := e.basketReturns(p, i, e.cfg.MomentumDays)
	if len(rets) == 0 {
		return 0, false
	}
	var refSum float64
	var refN int
	for _, ref := range e.universe.References() {
		if r, ok := p.Return(ref, i, e.cfg.MomentumDays); ok {
			refSum += r
			refN++
		}
	}
	if refN == 0 {
		return 0, false
	}
	return median(rets) - refSum/float64(refN), true
}

// indexVol is the sample std of equal-weight index daily returns ending at i.
func indexVol(p *market.Panel, assets []string, i, window int) float64 {
	rets := make([]float64, 0, window)
	for j := i - window + 1; j <= i; j++ {
		if j < 1 {
			continue
		}
		var sum float64
		var n int
		for _, asset := range assets {
			if r, ok := p.Return(asset, j, 1); ok {
				sum += r
				n++
			}
		}
		if n > 0 {
			rets = append(rets, sum/float64(n))
		}
	}
	if len(rets) < 2 {
		return math.NaN()
	}
	return stat.StdDev(rets, nil)
}

func fractionPositive(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var n int
	for _, x := range xs {
		if x > 0 {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

func interquartile(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return stat.Quantile(0.75, stat.Empirical, s, nil) - stat.Quantile(0.25, stat.Empirical, s, nil)
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
