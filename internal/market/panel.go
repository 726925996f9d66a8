package market

import (
	"sort"
	"time"
)

// Panel is an aligned dates-by-assets view over a set of Series. Cells are
// nil where an asset has no record for a date. The panel is built once per
// run and shared read-only across components and workers.
type Panel struct {
	dates    []time.Time
	assets   []string
	dateIdx  map[int64]int
	assetIdx map[string]int
	bars     [][]*Bar // [asset][date]
}

// NewPanel aligns the given series on the union of their dates.
func NewPanel(series []Series) *Panel {
	seen := make(map[int64]time.Time)
	for _, s := range series {
		for _, b := range s.Bars {
			d := Day(b.Date)
			seen[d.Unix()] = d
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	p := &Panel{
		dates:    dates,
		dateIdx:  make(map[int64]int, len(dates)),
		assetIdx: make(map[string]int, len(series)),
	}
	for i, d := range dates {
		p.dateIdx[d.Unix()] = i
	}
	for _, s := range series {
		row := make([]*Bar, len(dates))
		for i := range s.Bars {
			b := s.Bars[i]
			if j, ok := p.dateIdx[Day(b.Date).Unix()]; ok {
				bar := b
				row[j] = &bar
			}
		}
		p.assetIdx[s.Asset] = len(p.assets)
		p.assets = append(p.assets, s.Asset)
		p.bars = append(p.bars, row)
	}
	return p
}

// Len returns the number of aligned dates.
func (p *Panel) Len() int { return len(p.dates) }

// Dates returns the aligned date axis.
func (p *Panel) Dates() []time.Time { return p.dates }

// Date returns the date at index i.
func (p *Panel) Date(i int) time.Time { return p.dates[i] }

// Assets returns the asset axis.
func (p *Panel) Assets() []string { return p.assets }

// IndexOf returns the date index for t, if t is on the axis.
func (p *Panel) IndexOf(t time.Time) (int, bool) {
	i, ok := p.dateIdx[Day(t).Unix()]
	return i, ok
}

// Bar returns the record for asset at date index i, if present.
func (p *Panel) Bar(asset string, i int) (Bar, bool) {
	a, ok := p.assetIdx[asset]
	if !ok || i < 0 || i >= len(p.dates) {
		return Bar{}, false
	}
	b := p.bars[a][i]
	if b == nil {
		return Bar{}, false
	}
	return *b, true
}

// Close returns the close price for asset at date index i, if present.
func (p *Panel) Close(asset string, i int) (float64, bool) {
	b, ok := p.Bar(asset, i)
	if !ok {
		return 0, false
	}
	return b.Close, true
}

// Funding returns the funding rate for asset at date index i. The second
// return is false when the record or its funding field is absent.
func (p *Panel) Funding(asset string, i int) (float64, bool) {
	b, ok := p.Bar(asset, i)
	if !ok || b.Funding == nil {
		return 0, false
	}
	return *b.Funding, true
}

// Return computes the lookback-day simple return ending at date index i.
// Both endpoint records must be present.
func (p *Panel) Return(asset string, i, lookback int) (float64, bool) {
	if lookback <= 0 || i-lookback < 0 {
		return 0, false
	}
	now, ok := p.Close(asset, i)
	if !ok {
		return 0, false
	}
	then, ok := p.Close(asset, i-lookback)
	if !ok || then == 0 {
		return 0, false
	}
	return now/then - 1, true
}

// DailyReturns collects up to n one-day returns ending at date index end,
// newest last. Days where either endpoint is missing are skipped, so the
// result may be shorter than n.
func (p *Panel) DailyReturns(asset string, end, n int) []float64 {
	out := make([]float64, 0, n)
	start := end - n + 1
	if start < 1 {
		start = 1
	}
	for i := start; i <= end; i++ {
		if r, ok := p.Return(asset, i, 1); ok {
			out = append(out, r)
		}
	}
	return out
}

// AlignedReturns builds regression rows over the last n days ending at end:
// one-day returns of y against the same-day returns of every x. Days where
// any participant is missing are dropped from all rows.
func (p *Panel) AlignedReturns(y string, xs []string, end, n int) (ys []float64, rows [][]float64) {
	start := end - n + 1
	if start < 1 {
		start = 1
	}
	for i := start; i <= end; i++ {
		ry, ok := p.Return(y, i, 1)
		if !ok {
			continue
		}
		row := make([]float64, len(xs))
		complete := true
		for j, x := range xs {
			rx, ok := p.Return(x, i, 1)
			if !ok {
				complete = false
				break
			}
			row[j] = rx
		}
		if !complete {
			continue
		}
		ys = append(ys, ry)
		rows = append(rows, row)
	}
	return ys, rows
}
