package market

import (
	"context"
	"sort"
	"time"
)

// Category tags an asset for universe filtering.
type Category string

const (
	CategoryStandard  Category = "standard"
	CategoryReference Category = "reference"
	CategoryStable    Category = "stable"
	CategoryWrapped   Category = "wrapped"
)

// Bar is one daily observation for a single asset. Funding is nil when the
// asset has no funding market or the rate was not recorded for that date;
// absent records are absent, never zero-filled.
type Bar struct {
	Date      time.Time `json:"date"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	MarketCap float64   `json:"market_cap"`
	Funding   *float64  `json:"funding,omitempty"`
}

// Series is the ordered-by-date history of one asset. Immutable input:
// the engine only ever reads slices of it.
type Series struct {
	Asset string `json:"asset"`
	Bars  []Bar  `json:"bars"`
}

// AssetInfo carries per-asset universe metadata.
type AssetInfo struct {
	Symbol   string   `json:"symbol" yaml:"symbol"`
	Category Category `json:"category" yaml:"category"`
}

// Universe is the fixed set of assets a run operates on.
type Universe struct {
	Assets []AssetInfo `json:"assets" yaml:"assets"`
}

// References returns the reference (major) asset symbols in declaration order.
func (u Universe) References() []string {
	var refs []string
	for _, a := range u.Assets {
		if a.Category == CategoryReference {
			refs = append(refs, a.Symbol)
		}
	}
	return refs
}

// Candidates returns symbols eligible for short-leg selection: everything
// that is not a reference asset or a flagged non-tradable category.
func (u Universe) Candidates() []string {
	var out []string
	for _, a := range u.Assets {
		switch a.Category {
		case CategoryReference, CategoryStable, CategoryWrapped:
			continue
		default:
			out = append(out, a.Symbol)
		}
	}
	return out
}

// Symbols returns every universe symbol.
func (u Universe) Symbols() []string {
	out := make([]string, 0, len(u.Assets))
	for _, a := range u.Assets {
		out = append(out, a.Symbol)
	}
	return out
}

// History is the read-only accessor to curated daily snapshots, owned by the
// external data collaborator. Implementations must return bars sorted by
// date with records entirely absent (not zero-filled) where no data exists.
type History interface {
	Range(ctx context.Context, from, to time.Time, assets []string) ([]Series, error)
}

// MemoryHistory is an in-memory History used for backtests and tests.
type MemoryHistory struct {
	series map[string]Series
}

// NewMemoryHistory builds a MemoryHistory, sorting each series by date.
func NewMemoryHistory(series []Series) *MemoryHistory {
	m := &MemoryHistory{series: make(map[string]Series, len(series))}
	for _, s := range series {
		bars := make([]Bar, len(s.Bars))
		copy(bars, s.Bars)
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		m.series[s.Asset] = Series{Asset: s.Asset, Bars: bars}
	}
	return m
}

// Range returns the requested slice per asset. Assets with no data in the
// window are omitted entirely.
func (m *MemoryHistory) Range(_ context.Context, from, to time.Time, assets []string) ([]Series, error) {
	out := make([]Series, 0, len(assets))
	for _, asset := range assets {
		s, ok := m.series[asset]
		if !ok {
			continue
		}
		var bars []Bar
		for _, b := range s.Bars {
			if b.Date.Before(from) || b.Date.After(to) {
				continue
			}
			bars = append(bars, b)
		}
		if len(bars) > 0 {
			out = append(out, Series{Asset: asset, Bars: bars})
		}
	}
	return out, nil
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
