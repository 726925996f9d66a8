package walkforward

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altfade/internal/backtest"
	"altfade/internal/basket"
	"altfade/internal/features"
	"altfade/internal/market"
	"altfade/internal/regime"
	"altfade/internal/tune"
)

type constFeatures struct{ vec features.Vector }

func (c *constFeatures) Compute(*market.Panel, int) (features.Vector, error) {
	return c.vec, nil
}

type longBuilder struct{ asset string }

func (b *longBuilder) Build(p *market.Panel, i int) (*basket.Snapshot, error) {
	return &basket.Snapshot{
		Date:               p.Date(i),
		SolvedBy:           "scripted",
		NeutralityAchieved: true,
		Constituents: []basket.Constituent{
			{Asset: b.asset, Weight: 1.0, Side: basket.SideLong},
		},
	}, nil
}

// riseFallPanel rises for the first `rise` dates, then falls. Moves alternate
// between two magnitudes so invested windows have non-zero return dispersion.
func riseFallPanel(days, rise int) *market.Panel {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s := market.Series{Asset: "AAA"}
	price := 100.0
	for i := 0; i < days; i++ {
		s.Bars = append(s.Bars, market.Bar{Date: base.AddDate(0, 0, i), Close: price, Volume: 1e7, MarketCap: 1e9})
		step := 1.02
		if i%2 == 1 {
			step = 1.01
		}
		if i >= rise-1 {
			step = 2 - step // mirror into a decline
		}
		price *= step
	}
	return market.NewPanel([]market.Series{s})
}

func wfEngineConfig() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.RebalanceDays = 1
	cfg.FeeRate = 0
	cfg.VolTarget = 0
	cfg.WeakScale = 1
	cfg.StopVolMult = 0
	cfg.StopFloor = 0
	cfg.TakeProfit = 0
	cfg.MaxHoldingDays = 0
	return cfg
}

func onOffTune() tune.Config {
	cfg := tune.DefaultConfig()
	cfg.Profiles = []tune.Profile{
		{Name: "on", Weights: map[string]float64{features.Breadth: 1.0}},
		{Name: "off", Weights: map[string]float64{features.Breadth: -1.0}},
	}
	cfg.ThresholdScales = []float64{1.0}
	cfg.Workers = 1
	return cfg
}

func TestPartition_NonOverlappingTestWindows(t *testing.T) {
	panel := riseFallPanel(20, 20)
	o, err := NewOrchestrator(Config{TrainDays: 6, TestDays: 4, Workers: 1},
		onOffTune(), wfEngineConfig(), panel,
		&constFeatures{vec: features.Vector{features.Breadth: 1.0}}, &longBuilder{asset: "AAA"})
	require.NoError(t, err)

	spans := o.partition()
	require.Len(t, spans, 4)
	for i, sp := range spans {
		assert.Equal(t, 6, sp.trainTo-sp.trainFrom+1, "step %d train length", i)
		assert.Equal(t, sp.trainTo+1, sp.testFrom, "step %d test follows train", i)
		if i > 0 {
			assert.Equal(t, spans[i-1].testTo+1, sp.testFrom, "step %d tests must tile", i)
		}
	}
	// Final window is clipped at the panel end.
	assert.Equal(t, 19, spans[3].testTo)
	assert.Equal(t, 18, spans[3].testFrom)
}

func TestRun_FitsPerTrainWindowAndStitches(t *testing.T) {
	// Prices rise through the first train window and fall through the
	// second, so step 0 must fit the invested profile and step 1 the flat
	// one. The stitched run then trades only the first test window.
	panel := riseFallPanel(18, 6)
	o, err := NewOrchestrator(Config{TrainDays: 6, TestDays: 6, Workers: 2},
		onOffTune(), wfEngineConfig(), panel,
		&constFeatures{vec: features.Vector{features.Breadth: 1.0}}, &longBuilder{asset: "AAA"})
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)

	assert.Equal(t, "on", res.Steps[0].Fitted.Profile)
	assert.Equal(t, "off", res.Steps[1].Fitted.Profile)
	assert.Equal(t, panel.Date(0), res.Steps[0].TrainFrom)
	assert.Equal(t, panel.Date(6), res.Steps[0].TestFrom)

	// Out-of-sample report covers exactly the tiled test windows.
	require.Len(t, res.Report.Rows, 12)
	assert.Equal(t, panel.Date(6), res.Report.Rows[0].Date)
	assert.Equal(t, panel.Date(17), res.Report.Rows[11].Date)

	// Second test window runs under the flat profile: no exposure.
	for _, row := range rowsBetween(res.Report.Rows, res.Steps[1].TestFrom, res.Steps[1].TestTo) {
		assert.Zero(t, row.Gross, "date %s", row.Date)
	}
	assert.Zero(t, res.Steps[1].Summary.ActiveDays)
	assert.Greater(t, res.Steps[0].Summary.ActiveDays, 0)

	// Equity is continuous across the boundary: the last row of step 0 and
	// the first row of step 1 chain through the same engine state.
	step0 := rowsBetween(res.Report.Rows, res.Steps[0].TestFrom, res.Steps[0].TestTo)
	step1 := rowsBetween(res.Report.Rows, res.Steps[1].TestFrom, res.Steps[1].TestTo)
	assert.InDelta(t, step0[len(step0)-1].Equity*(1+step1[0].Net), step1[0].Equity, 1e-12)
}

func TestRun_PanelTooShort(t *testing.T) {
	panel := riseFallPanel(5, 5)
	o, err := NewOrchestrator(Config{TrainDays: 10, TestDays: 5, Workers: 1},
		onOffTune(), wfEngineConfig(), panel,
		&constFeatures{vec: features.Vector{features.Breadth: 1.0}}, &longBuilder{asset: "AAA"})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.Error(t, err)
}

func TestSignalAsOf_UsesMostRecentPriorFit(t *testing.T) {
	panel := riseFallPanel(18, 6)
	o, err := NewOrchestrator(Config{TrainDays: 6, TestDays: 6, Workers: 1},
		onOffTune(), wfEngineConfig(), panel,
		&constFeatures{vec: features.Vector{features.Breadth: 1.0}}, &longBuilder{asset: "AAA"})
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	// As of the final date the step-1 fit (flat profile) is the most recent
	// whose training ended before the date.
	sig, err := o.SignalAsOf(res, panel.Date(17))
	require.NoError(t, err)
	assert.Equal(t, "off", sig.Profile)
	assert.False(t, sig.Label.Tradeable())
	assert.Nil(t, sig.Snapshot)
	assert.Equal(t, panel.Date(17), sig.Date)

	// Mid-run the step-0 fit still applies, and its invested profile
	// produces a tradeable label plus a recommended basket.
	sig, err = o.SignalAsOf(res, panel.Date(8))
	require.NoError(t, err)
	assert.Equal(t, "on", sig.Profile)
	assert.True(t, sig.Label.Tradeable())
	require.NotNil(t, sig.Snapshot)
	assert.Equal(t, panel.Date(8), sig.Snapshot.Date)

	// Before any training window has closed there is nothing to apply.
	_, err = o.SignalAsOf(res, panel.Date(2))
	assert.Error(t, err)
}

func TestSwitchingClassifier_StateSurvivesSwap(t *testing.T) {
	p1 := regime.DefaultParams()
	p1.Weights = map[string]float64{features.Breadth: 1.0}
	p2 := regime.DefaultParams()
	p2.Weights = map[string]float64{features.Breadth: -1.0}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cls := newSwitchingClassifier([]boundary{
		{from: base, params: p1},
		{from: base.AddDate(0, 0, 2), params: p2},
	})

	// Two majors dates under p1, then a swap. The new parameters score the
	// same vector at -0.6, which stays inside the held band's hysteresis
	// zone, so the label must be carried over instead of reset.
	r := cls.Advance(base, features.Vector{features.Breadth: 1.0})
	assert.Equal(t, regime.WeakMajors, r.Label)
	r = cls.Advance(base.AddDate(0, 0, 1), features.Vector{features.Breadth: 1.0})
	assert.Equal(t, regime.WeakMajors, r.Label)

	r = cls.Advance(base.AddDate(0, 0, 2), features.Vector{features.Breadth: -0.6})
	assert.Equal(t, regime.WeakMajors, r.Label)
	assert.InDelta(t, 0.6, r.Score, 1e-12)
}
