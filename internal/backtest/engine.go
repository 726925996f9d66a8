package backtest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"altfade/internal/basket"
	"altfade/internal/features"
	"altfade/internal/market"
	"altfade/internal/regime"
)

// Config holds simulation parameters.
type Config struct {
	RebalanceDays        int     `yaml:"rebalance_days" json:"rebalance_days"`                 // basket refresh cadence (default 7)
	FeeRate              float64 `yaml:"fee_rate" json:"fee_rate"`                             // fee+slippage per unit turnover (default 0.001)
	FundingPeriodsPerDay float64 `yaml:"funding_periods_per_day" json:"funding_periods_per_day"` // 8h funding (default 3)
	VolTarget            float64 `yaml:"vol_target" json:"vol_target"`                         // annualized strategy vol target; 0 disables (default 0.10)
	VolWindowDays        int     `yaml:"vol_window_days" json:"vol_window_days"`               // trailing strategy vol window (default 20)
	MaxLeverage          float64 `yaml:"max_leverage" json:"max_leverage"`                     // vol-target scale ceiling (default 1.5)
	WeakScale            float64 `yaml:"weak_scale" json:"weak_scale"`                         // gross scale for weak regime variants (default 0.5)
	StopVolMult          float64 `yaml:"stop_vol_mult" json:"stop_vol_mult"`                   // stop floor in trailing-vol units (default 2.5)
	StopFloor            float64 `yaml:"stop_floor" json:"stop_floor"`                         // absolute stop floor cap (default 0.10)
	TakeProfit           float64 `yaml:"take_profit" json:"take_profit"`                       // P&L-since-entry target; 0 disables (default 0.15)
	MaxHoldingDays       int     `yaml:"max_holding_days" json:"max_holding_days"`             // 0 disables (default 45)
}

// DefaultConfig returns the default simulation parameters.
func DefaultConfig() Config {
	return Config{
		RebalanceDays:        7,
		FeeRate:              0.001,
		FundingPeriodsPerDay: 3,
		VolTarget:            0.10,
		VolWindowDays:        20,
		MaxLeverage:          1.5,
		WeakScale:            0.5,
		StopVolMult:          2.5,
		StopFloor:            0.10,
		TakeProfit:           0.15,
		MaxHoldingDays:       45,
	}
}

// Validate rejects configurations that cannot be simulated. This is the only
// fatal error class: everything after Run starts is absorbed and annotated.
func (c Config) Validate() error {
	if c.RebalanceDays < 1 {
		return fmt.Errorf("rebalance_days must be >= 1")
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("fee_rate must be non-negative")
	}
	if c.FundingPeriodsPerDay < 0 {
		return fmt.Errorf("funding_periods_per_day must be non-negative")
	}
	if c.VolTarget < 0 || c.WeakScale < 0 || c.MaxLeverage <= 0 {
		return fmt.Errorf("risk scales must be non-negative and max_leverage positive")
	}
	if c.StopVolMult < 0 || c.StopFloor < 0 || c.TakeProfit < 0 || c.MaxHoldingDays < 0 {
		return fmt.Errorf("risk control parameters must be non-negative")
	}
	return nil
}

// PortfolioState is the mutable per-run state, owned exclusively by the
// engine and discarded at the end of a run.
type PortfolioState struct {
	Weights     map[string]float64 // signed, post-scale
	Equity      float64
	EntryDate   time.Time
	EntryEquity float64
	HoldingDays int
	InPosition  bool
	Stopped     bool // stop/take-profit/max-holding latch
}

// FeatureSource produces the feature vector for a date index, or an error
// when the date cannot be scored. *features.Engine is the production source.
type FeatureSource interface {
	Compute(p *market.Panel, i int) (features.Vector, error)
}

// BasketBuilder produces a basket snapshot for a date index.
// *basket.Constructor is the production builder.
type BasketBuilder interface {
	Build(p *market.Panel, i int) (*basket.Snapshot, error)
}

// Engine advances a simulated portfolio one date at a time. Dates are
// strictly sequential: equity, entry bookkeeping and the stop latch all
// carry forward, so a run must never be shared across goroutines.
type Engine struct {
	cfg         Config
	panel       *market.Panel
	feats       FeatureSource
	classifier  regime.Classifier
	constructor BasketBuilder
}

// NewEngine wires an engine from its collaborators. The panel is read-only
// and may be shared; the classifier and feature source are owned by this
// engine for the run.
func NewEngine(cfg Config, panel *market.Panel,
	feats FeatureSource, classifier regime.Classifier, constructor BasketBuilder) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	return &Engine{
		cfg:         cfg,
		panel:       panel,
		feats:       feats,
		classifier:  classifier,
		constructor: constructor,
	}, nil
}

// Run simulates the full panel range and returns the report. The run always
// completes: recoverable per-date conditions are recorded in the report, and
// ctx cancellation stops cleanly at a date boundary with the rows so far.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	return e.RunRange(ctx, 0, e.panel.Len()-1)
}

// RunRange simulates date indices [from, to] inclusive.
func (e *Engine) RunRange(ctx context.Context, from, to int) (*Report, error) {
	if from < 0 || to >= e.panel.Len() || from > to {
		return nil, fmt.Errorf("invalid simulation range [%d, %d]", from, to)
	}
	report := &Report{
		RunID: e.runID(from, to),
		Start: e.panel.Date(from),
		End:   e.panel.Date(to),
	}
	state := &PortfolioState{Weights: map[string]float64{}, Equity: 1.0}
	stratVol := market.NewWindow(e.cfg.VolWindowDays)

	var lastRebalance int
	var current *basket.Snapshot

	for i := from; i <= to; i++ {
		select {
		case <-ctx.Done():
			report.Summary = summarize(report.Rows, len(report.Rebalances))
			return report, ctx.Err()
		default:
		}
		date := e.panel.Date(i)

		vec, err := e.feats.Compute(e.panel, i)
		if err != nil {
			// Burn-in or feature gap: excluded from all downstream
			// consumers, recorded, never defaulted.
			report.Skipped = append(report.Skipped, SkippedDate{Date: date, Reason: err.Error()})
			continue
		}
		res := e.classifier.Advance(date, vec)
		report.Timeline = append(report.Timeline, res)

		row := Row{Date: date, Label: res.Label, Score: res.Score, Equity: state.Equity}

		// P&L from weights held at the prior close.
		elapsed := 1.0
		if i > from {
			elapsed = e.panel.Date(i).Sub(e.panel.Date(i - 1)).Hours() / 24
		}
		row.PriceReturn, row.Carry = e.markToMarket(state.Weights, i, elapsed, &row)

		// Leaving the trade family clears the stop latch: the next entry is
		// regime-triggered, not a resumption.
		if !res.Label.Tradeable() && state.Stopped {
			state.Stopped = false
			row.Notes = append(row.Notes, "stop latch cleared on regime exit")
		}

		// Target determination and rebalance.
		trade := res.Label.Tradeable() && !state.Stopped
		target := map[string]float64{}
		scale := 0.0
		if trade {
			needRebalance := current == nil || !state.InPosition || i-lastRebalance >= e.cfg.RebalanceDays
			if needRebalance {
				snap, err := e.constructor.Build(e.panel, i)
				if err != nil {
					row.Notes = append(row.Notes, fmt.Sprintf("rebalance failed: %v", err))
				} else {
					current = snap
					lastRebalance = i
					report.Rebalances = append(report.Rebalances, snap)
					for _, note := range snap.Notes {
						row.Notes = append(row.Notes, "snapshot: "+note)
					}
				}
			}
			if current != nil && !current.IsFlat() {
				scale = e.riskScale(res.Label, stratVol)
				for asset, w := range current.Weights() {
					target[asset] = w * scale
				}
			}
		}

		// Transaction cost on any weight change: vol-target rescaling
		// between rebalances counts as turnover and is charged, so costs
		// here upper-bound a fill-at-rebalance-only execution.
		row.Turnover = turnover(state.Weights, target)
		if row.Turnover > 1e-12 {
			row.Cost = row.Turnover * e.cfg.FeeRate
		}
		row.Scale = scale
		row.Gross = gross(target)

		row.Net = row.PriceReturn + row.Carry - row.Cost
		state.Equity *= 1 + row.Net
		row.Equity = state.Equity
		stratVol.Push(row.Net)

		// Entry/exit bookkeeping.
		wasIn := state.InPosition
		state.Weights = target
		state.InPosition = len(target) > 0
		switch {
		case state.InPosition && !wasIn:
			state.EntryDate = date
			state.EntryEquity = state.Equity
			state.HoldingDays = 0
		case state.InPosition:
			state.HoldingDays++
		case wasIn:
			state.EntryDate = time.Time{}
			state.EntryEquity = 0
			state.HoldingDays = 0
		}

		// Risk-control latches, effective from the next date.
		if state.InPosition {
			e.checkExits(state, stratVol, &row)
		}

		report.Rows = append(report.Rows, row)
	}

	report.Summary = summarize(report.Rows, len(report.Rebalances))
	log.Debug().
		Str("run_id", report.RunID).
		Int("rows", len(report.Rows)).
		Int("skipped", len(report.Skipped)).
		Float64("total_return", report.Summary.TotalReturn).
		Msg("backtest complete")
	return report, nil
}

// runID derives a stable identifier from the configuration, the classifier
// and the simulated range, so identical runs produce byte-identical reports.
func (e *Engine) runID(from, to int) string {
	h := sha256.New()
	cfg, _ := json.Marshal(e.cfg)
	h.Write(cfg)
	fmt.Fprintf(h, "|%s|%s|%s",
		e.classifier.Name(),
		e.panel.Date(from).Format("2006-01-02"),
		e.panel.Date(to).Format("2006-01-02"))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// markToMarket applies today's returns and funding to the held weights.
// A constituent with a missing price contributes zero return for the date
// while its weight stays in force for exposure accounting; this is a
// documented approximation, annotated per occurrence.
func (e *Engine) markToMarket(weights map[string]float64, i int, elapsedDays float64, row *Row) (price, carry float64) {
	for _, asset := range sortedKeys(weights) {
		w := weights[asset]
		r, ok := e.panel.Return(asset, i, 1)
		if !ok {
			gap := &market.DataGapError{Asset: asset, Date: e.panel.Date(i)}
			row.Notes = append(row.Notes, gap.Error())
		} else {
			price += w * r
		}
		// Shorts receive positive funding, longs pay it.
		if f, ok := e.panel.Funding(asset, i); ok {
			carry += -w * f * e.cfg.FundingPeriodsPerDay * elapsedDays
		}
	}
	return price, carry
}

// riskScale applies volatility targeting and regime-strength scaling.
func (e *Engine) riskScale(label regime.Label, stratVol *market.Window) float64 {
	scale := 1.0
	if e.cfg.VolTarget > 0 && stratVol.Full() {
		realized := stratVol.Std() * math.Sqrt(365)
		if realized > 1e-9 {
			scale = e.cfg.VolTarget / realized
			if scale > e.cfg.MaxLeverage {
				scale = e.cfg.MaxLeverage
			}
		}
	}
	if label.Weak() {
		scale *= e.cfg.WeakScale
	}
	return scale
}

// checkExits latches the stop-loss, take-profit and max-holding controls.
// The latch takes effect on the next simulated date.
func (e *Engine) checkExits(state *PortfolioState, stratVol *market.Window, row *Row) {
	pnl := 0.0
	if state.EntryEquity > 0 {
		pnl = state.Equity/state.EntryEquity - 1
	}

	floor := e.cfg.StopFloor
	if e.cfg.StopVolMult > 0 && stratVol.Len() >= 2 {
		volFloor := e.cfg.StopVolMult * stratVol.Std() * math.Sqrt(float64(state.HoldingDays+1))
		if volFloor < floor {
			floor = volFloor
		}
	}
	switch {
	case floor > 0 && pnl < -floor:
		state.Stopped = true
		row.Notes = append(row.Notes, fmt.Sprintf("stop-loss: pnl %.4f below floor %.4f", pnl, -floor))
	case e.cfg.TakeProfit > 0 && pnl > e.cfg.TakeProfit:
		state.Stopped = true
		row.Notes = append(row.Notes, fmt.Sprintf("take-profit: pnl %.4f above target %.4f", pnl, e.cfg.TakeProfit))
	case e.cfg.MaxHoldingDays > 0 && state.HoldingDays >= e.cfg.MaxHoldingDays:
		state.Stopped = true
		row.Notes = append(row.Notes, fmt.Sprintf("max holding: %d days", state.HoldingDays))
	}
}

func turnover(prev, next map[string]float64) float64 {
	var t float64
	seen := map[string]bool{}
	for asset, w := range next {
		t += math.Abs(w - prev[asset])
		seen[asset] = true
	}
	for asset, w := range prev {
		if !seen[asset] {
			t += math.Abs(w)
		}
	}
	return t
}

func gross(weights map[string]float64) float64 {
	var g float64
	for _, w := range weights {
		g += math.Abs(w)
	}
	return g
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
