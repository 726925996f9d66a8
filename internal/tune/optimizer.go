package tune

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"altfade/internal/backtest"
	"altfade/internal/features"
	"altfade/internal/market"
	"altfade/internal/regime"
)

// Profile is a named feature-weight candidate for the grid.
type Profile struct {
	Name    string             `yaml:"name" json:"name"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`
}

// DefaultProfiles returns the standard weight candidates: the untuned
// baseline plus a momentum-tilted and a funding-tilted variant.
func DefaultProfiles() []Profile {
	base := regime.DefaultParams().Weights
	momentum := cloneWeights(base)
	momentum[features.DominanceShift] = 0.35
	momentum[features.CrossMomentum] = -0.30
	momentum[features.FundingSkew] = 0.05
	funding := cloneWeights(base)
	funding[features.FundingSkew] = 0.25
	funding[features.FundingHeat] = 0.20
	funding[features.OpenInterestRisk] = 0.10
	funding[features.DominanceShift] = 0.15
	return []Profile{
		{Name: "baseline", Weights: base},
		{Name: "momentum", Weights: momentum},
		{Name: "funding", Weights: funding},
	}
}

func cloneWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Config controls the grid search.
type Config struct {
	Base            regime.Params `yaml:"base" json:"base"` // thresholds/margin/levels template
	Profiles        []Profile     `yaml:"profiles" json:"profiles"`
	ThresholdScales []float64     `yaml:"threshold_scales" json:"threshold_scales"`
	DrawdownPenalty float64       `yaml:"drawdown_penalty" json:"drawdown_penalty"`
	Workers         int           `yaml:"workers" json:"workers"`
}

// DefaultConfig returns the default grid.
func DefaultConfig() Config {
	return Config{
		Base:            regime.DefaultParams(),
		Profiles:        DefaultProfiles(),
		ThresholdScales: []float64{0.75, 1.0, 1.25},
		DrawdownPenalty: 0.5,
		Workers:         4,
	}
}

// Validate rejects grids that cannot be searched.
func (c Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("no weight profiles")
	}
	if len(c.ThresholdScales) == 0 {
		return fmt.Errorf("no threshold scales")
	}
	for _, s := range c.ThresholdScales {
		if s <= 0 {
			return fmt.Errorf("threshold scales must be positive, got %v", s)
		}
	}
	if c.DrawdownPenalty < 0 {
		return fmt.Errorf("drawdown penalty must be non-negative")
	}
	return nil
}

// FittedParams is the outcome of one grid search: the winning classifier
// parameters plus enough provenance to audit the selection.
type FittedParams struct {
	Params     regime.Params `json:"params"`
	Profile    string        `json:"profile"`
	Scale      float64       `json:"threshold_scale"`
	Objective  float64       `json:"objective"`
	Evaluated  int           `json:"evaluated"`
	TrainStart time.Time     `json:"train_start"`
	TrainEnd   time.Time     `json:"train_end"`
}

// Optimizer fits classifier parameters by simulating every grid candidate on
// a training slice and keeping the best risk-adjusted outcome. The panel,
// feature source and basket builder are shared read-only across workers;
// each evaluation gets its own classifier and engine.
type Optimizer struct {
	cfg       Config
	engineCfg backtest.Config
	panel     *market.Panel
	feats     backtest.FeatureSource
	builder   backtest.BasketBuilder
}

// NewOptimizer wires a grid search over the given data slice.
func NewOptimizer(cfg Config, engineCfg backtest.Config, panel *market.Panel,
	feats backtest.FeatureSource, builder backtest.BasketBuilder) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tune config: %w", err)
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, fmt.Errorf("tune engine config: %w", err)
	}
	return &Optimizer{cfg: cfg, engineCfg: engineCfg, panel: panel, feats: feats, builder: builder}, nil
}

type candidate struct {
	idx     int
	profile Profile
	scale   float64
}

type evaluation struct {
	objective float64
	params    regime.Params
	err       error
}

// Fit evaluates the full grid on date indices [from, to] and returns the
// winner. Ties resolve to the earlier grid position (profile order, then
// scale order), so the result is independent of worker scheduling.
func (o *Optimizer) Fit(ctx context.Context, from, to int) (*FittedParams, error) {
	cands := o.candidates()
	results := make([]evaluation, len(cands))

	workers := o.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(cands) {
		workers = len(cands)
	}

	feed := make(chan candidate)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range feed {
				results[c.idx] = o.evaluate(ctx, c, from, to)
			}
		}()
	}
	for _, c := range cands {
		feed <- c
	}
	close(feed)
	wg.Wait()

	best := -1
	var firstErr error
	for i, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if best < 0 || r.objective > results[best].objective {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("grid search: no candidate evaluated: %w", firstErr)
	}

	win := cands[best]
	fitted := &FittedParams{
		Params:     results[best].params,
		Profile:    win.profile.Name,
		Scale:      win.scale,
		Objective:  results[best].objective,
		Evaluated:  len(cands),
		TrainStart: o.panel.Date(from),
		TrainEnd:   o.panel.Date(to),
	}
	log.Debug().
		Str("profile", fitted.Profile).
		Float64("scale", fitted.Scale).
		Float64("objective", fitted.Objective).
		Int("evaluated", fitted.Evaluated).
		Msg("grid search complete")
	return fitted, nil
}

func (o *Optimizer) candidates() []candidate {
	out := make([]candidate, 0, len(o.cfg.Profiles)*len(o.cfg.ThresholdScales))
	for _, p := range o.cfg.Profiles {
		for _, s := range o.cfg.ThresholdScales {
			out = append(out, candidate{idx: len(out), profile: p, scale: s})
		}
	}
	return out
}

// paramsFor instantiates the candidate: profile weights, base thresholds and
// exit margin multiplied by the scale so the hysteresis stays proportional.
func (o *Optimizer) paramsFor(c candidate) regime.Params {
	p := o.cfg.Base
	p.Weights = cloneWeights(c.profile.Weights)
	for i := range p.Thresholds {
		p.Thresholds[i] *= c.scale
	}
	p.ExitMargin *= c.scale
	return p
}

func (o *Optimizer) evaluate(ctx context.Context, c candidate, from, to int) evaluation {
	params := o.paramsFor(c)
	if err := params.Validate(); err != nil {
		return evaluation{err: fmt.Errorf("candidate %s/%v: %w", c.profile.Name, c.scale, err)}
	}
	eng, err := backtest.NewEngine(o.engineCfg, o.panel, o.feats,
		regime.NewCompositeClassifier(params), o.builder)
	if err != nil {
		return evaluation{err: err}
	}
	report, err := eng.RunRange(ctx, from, to)
	if err != nil {
		return evaluation{err: fmt.Errorf("candidate %s/%v: %w", c.profile.Name, c.scale, err)}
	}
	obj := report.Summary.Sharpe - o.cfg.DrawdownPenalty*report.Summary.MaxDrawdown
	return evaluation{objective: obj, params: params}
}
