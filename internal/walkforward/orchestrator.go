package walkforward

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"altfade/internal/backtest"
	"altfade/internal/basket"
	plog "altfade/internal/log"
	"altfade/internal/market"
	"altfade/internal/regime"
	"altfade/internal/tune"
)

// Config controls the train/test partitioning.
type Config struct {
	TrainDays int `yaml:"train_days" json:"train_days"`
	TestDays  int `yaml:"test_days" json:"test_days"`
	Workers   int `yaml:"workers" json:"workers"` // parallel step fits
}

// DefaultConfig returns the default walk-forward schedule.
func DefaultConfig() Config {
	return Config{TrainDays: 180, TestDays: 30, Workers: 2}
}

// Validate rejects schedules that cannot partition a timeline.
func (c Config) Validate() error {
	if c.TrainDays < 1 {
		return fmt.Errorf("train_days must be >= 1")
	}
	if c.TestDays < 1 {
		return fmt.Errorf("test_days must be >= 1")
	}
	return nil
}

// Step is one train/test pair with its fitted parameters and the
// out-of-sample diagnostics of its test window.
type Step struct {
	Index     int                `json:"index"`
	TrainFrom time.Time          `json:"train_from"`
	TrainTo   time.Time          `json:"train_to"`
	TestFrom  time.Time          `json:"test_from"`
	TestTo    time.Time          `json:"test_to"`
	Fitted    *tune.FittedParams `json:"fitted"`
	Summary   backtest.Summary   `json:"summary"`
}

// Result is a full walk-forward run: the per-step fits plus the single
// stitched out-of-sample backtest over all test windows.
type Result struct {
	Steps  []Step           `json:"steps"`
	Report *backtest.Report `json:"report"`
}

// Signal is the product of SignalAsOf: the current label under the most
// recent fitted parameters and, when the regime trades, the recommended
// basket.
type Signal struct {
	Date     time.Time        `json:"date"`
	Label    regime.Label     `json:"label"`
	Regime   string           `json:"regime"`
	Score    float64          `json:"score"`
	Profile  string           `json:"profile"`
	FittedAt time.Time        `json:"fitted_at"` // train window end
	Snapshot *basket.Snapshot `json:"snapshot,omitempty"`
}

// span is a step's index range on the panel axis.
type span struct {
	trainFrom, trainTo int
	testFrom, testTo   int
}

// Orchestrator partitions the panel into rolling train/test windows, fits
// classifier parameters per train window, and evaluates each test window
// with its parameters frozen. Fits run in parallel over the immutable panel
// and shared feature cache; the stitched evaluation is one sequential
// engine pass so equity and position state carry across step boundaries.
type Orchestrator struct {
	cfg       Config
	tuneCfg   tune.Config
	engineCfg backtest.Config
	panel     *market.Panel
	feats     backtest.FeatureSource
	builder   backtest.BasketBuilder
}

// NewOrchestrator wires a walk-forward run.
func NewOrchestrator(cfg Config, tuneCfg tune.Config, engineCfg backtest.Config,
	panel *market.Panel, feats backtest.FeatureSource, builder backtest.BasketBuilder) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("walkforward config: %w", err)
	}
	if err := tuneCfg.Validate(); err != nil {
		return nil, fmt.Errorf("walkforward tune config: %w", err)
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, fmt.Errorf("walkforward engine config: %w", err)
	}
	return &Orchestrator{
		cfg:       cfg,
		tuneCfg:   tuneCfg,
		engineCfg: engineCfg,
		panel:     panel,
		feats:     feats,
		builder:   builder,
	}, nil
}

// partition lays out the steps: every step has a full train window, test
// windows never overlap, and the final test window may be short.
func (o *Orchestrator) partition() []span {
	var out []span
	n := o.panel.Len()
	for start := 0; start+o.cfg.TrainDays < n; start += o.cfg.TestDays {
		testFrom := start + o.cfg.TrainDays
		testTo := testFrom + o.cfg.TestDays - 1
		if testTo > n-1 {
			testTo = n - 1
		}
		out = append(out, span{
			trainFrom: start,
			trainTo:   testFrom - 1,
			testFrom:  testFrom,
			testTo:    testTo,
		})
	}
	return out
}

// Run executes the full walk-forward: parallel per-step fits, then one
// stitched out-of-sample simulation.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	spans := o.partition()
	if len(spans) == 0 {
		return nil, fmt.Errorf("panel too short for one walk-forward step: %d dates, need > %d",
			o.panel.Len(), o.cfg.TrainDays)
	}

	fits := make([]*tune.FittedParams, len(spans))
	errs := make([]error, len(spans))
	tracker := plog.NewTracker("walkforward fit", len(spans))

	workers := o.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(spans) {
		workers = len(spans)
	}
	feed := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range feed {
				fits[i], errs[i] = o.fitStep(ctx, spans[i])
				tracker.Step(fmt.Sprintf("step %d", i))
			}
		}()
	}
	for i := range spans {
		feed <- i
	}
	close(feed)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			tracker.Fail(err.Error())
			return nil, fmt.Errorf("walkforward step %d fit: %w", i, err)
		}
	}
	tracker.Finish()

	schedule := make([]boundary, len(spans))
	for i, sp := range spans {
		schedule[i] = boundary{from: o.panel.Date(sp.testFrom), params: fits[i].Params}
	}
	eng, err := backtest.NewEngine(o.engineCfg, o.panel, o.feats,
		newSwitchingClassifier(schedule), o.builder)
	if err != nil {
		return nil, err
	}
	report, err := eng.RunRange(ctx, spans[0].testFrom, spans[len(spans)-1].testTo)
	if err != nil {
		return nil, fmt.Errorf("walkforward out-of-sample run: %w", err)
	}

	res := &Result{Report: report}
	for i, sp := range spans {
		step := Step{
			Index:     i,
			TrainFrom: o.panel.Date(sp.trainFrom),
			TrainTo:   o.panel.Date(sp.trainTo),
			TestFrom:  o.panel.Date(sp.testFrom),
			TestTo:    o.panel.Date(sp.testTo),
			Fitted:    fits[i],
		}
		step.Summary = backtest.Summarize(
			rowsBetween(report.Rows, step.TestFrom, step.TestTo),
			rebalancesBetween(report.Rebalances, step.TestFrom, step.TestTo),
		)
		res.Steps = append(res.Steps, step)
	}

	log.Info().
		Int("steps", len(res.Steps)).
		Float64("oos_return", report.Summary.TotalReturn).
		Float64("oos_sharpe", report.Summary.Sharpe).
		Msg("walkforward complete")
	return res, nil
}

func (o *Orchestrator) fitStep(ctx context.Context, sp span) (*tune.FittedParams, error) {
	opt, err := tune.NewOptimizer(o.tuneCfg, o.engineCfg, o.panel, o.feats, o.builder)
	if err != nil {
		return nil, err
	}
	return opt.Fit(ctx, sp.trainFrom, sp.trainTo)
}

// SignalAsOf replays the classifier under the most recent parameters fitted
// strictly before the date and returns the current label plus, when the
// regime trades, the recommended basket. No engine run is involved.
func (o *Orchestrator) SignalAsOf(res *Result, date time.Time) (*Signal, error) {
	day := market.Day(date)
	var fitted *tune.FittedParams
	for i := range res.Steps {
		if res.Steps[i].TrainTo.Before(day) {
			fitted = res.Steps[i].Fitted
		}
	}
	if fitted == nil {
		return nil, fmt.Errorf("no parameters fitted before %s", day.Format("2006-01-02"))
	}

	idx := -1
	for i := 0; i < o.panel.Len(); i++ {
		if o.panel.Date(i).After(day) {
			break
		}
		idx = i
	}
	if idx < 0 {
		return nil, fmt.Errorf("no panel data on or before %s", day.Format("2006-01-02"))
	}

	cls := regime.NewCompositeClassifier(fitted.Params)
	var last regime.Result
	scored := false
	for i := 0; i <= idx; i++ {
		vec, err := o.feats.Compute(o.panel, i)
		if err != nil {
			continue
		}
		last = cls.Advance(o.panel.Date(i), vec)
		scored = true
	}
	if !scored {
		return nil, fmt.Errorf("no scorable dates on or before %s", day.Format("2006-01-02"))
	}

	sig := &Signal{
		Date:     o.panel.Date(idx),
		Label:    last.Label,
		Regime:   last.Label.String(),
		Score:    last.Score,
		Profile:  fitted.Profile,
		FittedAt: fitted.TrainEnd,
	}
	if last.Label.Tradeable() {
		snap, err := o.builder.Build(o.panel, idx)
		if err != nil {
			return nil, fmt.Errorf("signal basket: %w", err)
		}
		sig.Snapshot = snap
	}
	return sig, nil
}

func rowsBetween(rows []backtest.Row, from, to time.Time) []backtest.Row {
	var out []backtest.Row
	for _, r := range rows {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func rebalancesBetween(snaps []*basket.Snapshot, from, to time.Time) int {
	var n int
	for _, s := range snaps {
		if !s.Date.Before(from) && !s.Date.After(to) {
			n++
		}
	}
	return n
}
