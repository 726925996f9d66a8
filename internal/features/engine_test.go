package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altfade/internal/market"
)

func testUniverse() market.Universe {
	return market.Universe{Assets: []market.AssetInfo{
		{Symbol: "BTC", Category: market.CategoryReference},
		{Symbol: "ETH", Category: market.CategoryReference},
		{Symbol: "AAA", Category: market.CategoryStandard},
		{Symbol: "BBB", Category: market.CategoryStandard},
		{Symbol: "CCC", Category: market.CategoryStandard},
	}}
}

// syntheticSeries builds a deterministic wobbly price path so rolling stats
// never degenerate to zero variance.
func syntheticSeries(asset string, days int, drift, amp, phase, funding float64) market.Series {
	s := market.Series{Asset: asset}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < days; i++ {
		price *= 1 + drift + amp*math.Sin(float64(i)*0.7+phase)
		f := funding + 0.0001*math.Sin(float64(i)*0.3+phase)
		s.Bars = append(s.Bars, market.Bar{
			Date:      start.AddDate(0, 0, i),
			Close:     price,
			Volume:    1e6 + 1e5*math.Sin(float64(i)*0.5+phase),
			MarketCap: price * 1e7,
			Funding:   &f,
		})
	}
	return s
}

func syntheticPanel(days int) *market.Panel {
	return market.NewPanel([]market.Series{
		syntheticSeries("BTC", days, 0.001, 0.005, 0.0, 0.0001),
		syntheticSeries("ETH", days, 0.001, 0.006, 1.1, 0.0001),
		syntheticSeries("AAA", days, 0.000, 0.020, 2.2, 0.0004),
		syntheticSeries("BBB", days, -0.001, 0.025, 3.3, 0.0005),
		syntheticSeries("CCC", days, 0.002, 0.015, 4.4, 0.0003),
	})
}

func TestEngine_BurnInReturnsTypedError(t *testing.T) {
	p := syntheticPanel(70)
	e := NewEngine(DefaultConfig(), testUniverse())

	_, err := e.Compute(p, 45)
	require.Error(t, err)
	var insufficient *market.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestEngine_EmitsAllFeaturesAfterBurnIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ZScoreWindow = 20
	p := syntheticPanel(140)
	e := NewEngine(cfg, testUniverse())

	var got Vector
	for i := 0; i < p.Len(); i++ {
		if v, err := e.Compute(p, i); err == nil {
			got = v
		}
	}
	require.NotNil(t, got, "expected at least one post-burn-in vector")
	for _, name := range Names() {
		val, ok := got[name]
		require.True(t, ok, "missing feature %s", name)
		assert.False(t, math.IsNaN(val), "feature %s is NaN", name)
	}
}

func TestEngine_RawBreadthAndDispersion(t *testing.T) {
	p := syntheticPanel(140)
	e := NewEngine(DefaultConfig(), testUniverse())

	raw, err := e.Raw(p, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, raw[Breadth], 0.0)
	assert.LessOrEqual(t, raw[Breadth], 1.0)
	assert.GreaterOrEqual(t, raw[Dispersion], 0.0)
}

func TestEngine_NoLookAhead(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ZScoreWindow = 20
	full := syntheticPanel(140)

	// Same prefix, different tail: perturb everything after the probe date.
	series := []market.Series{
		syntheticSeries("BTC", 140, 0.001, 0.005, 0.0, 0.0001),
		syntheticSeries("ETH", 140, 0.001, 0.006, 1.1, 0.0001),
		syntheticSeries("AAA", 140, 0.000, 0.020, 2.2, 0.0004),
		syntheticSeries("BBB", 140, -0.001, 0.025, 3.3, 0.0005),
		syntheticSeries("CCC", 140, 0.002, 0.015, 4.4, 0.0003),
	}
	probe := 110
	for si := range series {
		for bi := probe + 1; bi < len(series[si].Bars); bi++ {
			series[si].Bars[bi].Close *= 7.77
			series[si].Bars[bi].Volume *= 3.0
		}
	}
	perturbed := market.NewPanel(series)

	e1 := NewEngine(cfg, testUniverse())
	e2 := NewEngine(cfg, testUniverse())
	for i := 0; i <= probe; i++ {
		v1, err1 := e1.Compute(full, i)
		v2, err2 := e2.Compute(perturbed, i)
		require.Equal(t, err1 == nil, err2 == nil, "error mismatch at %d", i)
		if err1 == nil {
			for _, name := range Names() {
				assert.Equal(t, v1[name], v2[name], "feature %s leaked future data at %d", name, i)
			}
		}
	}
}

func TestEngine_MissingFundingExcludedFromSkew(t *testing.T) {
	days := 140
	series := []market.Series{
		syntheticSeries("BTC", days, 0.001, 0.005, 0.0, 0.0001),
		syntheticSeries("ETH", days, 0.001, 0.006, 1.1, 0.0001),
		syntheticSeries("AAA", days, 0.000, 0.020, 2.2, 0.0004),
		syntheticSeries("BBB", days, -0.001, 0.025, 3.3, 0.0005),
		syntheticSeries("CCC", days, 0.002, 0.015, 4.4, 0.0003),
	}
	// Strip funding from one candidate entirely: it must be excluded from
	// the basket median rather than imputed as zero.
	for bi := range series[4].Bars {
		series[4].Bars[bi].Funding = nil
	}
	p := market.NewPanel(series)

	e := NewEngine(DefaultConfig(), testUniverse())
	raw, err := e.Raw(p, 100)
	require.NoError(t, err)

	// With CCC excluded the basket median sits between AAA and BBB rates,
	// both of which are well above the reference rates.
	assert.Greater(t, raw[FundingSkew], 0.0)
}
