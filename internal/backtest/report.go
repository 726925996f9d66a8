package backtest

import (
	"math"
	"time"

	"altfade/internal/basket"
	"altfade/internal/regime"
)

// Row is one simulated date: the P&L decomposition and the state needed to
// reconcile it independently (weights applied that day are the prior row's
// weights, costs and carry are recorded explicitly).
type Row struct {
	Date        time.Time    `json:"date"`
	Label       regime.Label `json:"label"`
	Score       float64      `json:"score"`
	Scale       float64      `json:"scale"`    // risk scale applied to the base snapshot
	Gross       float64      `json:"gross"`    // gross exposure after scaling
	PriceReturn float64      `json:"price_return"`
	Carry       float64      `json:"carry"`
	Cost        float64      `json:"cost"`
	Net         float64      `json:"net"` // PriceReturn + Carry - Cost
	Turnover    float64      `json:"turnover"`
	Equity      float64      `json:"equity"`
	Notes       []string     `json:"notes,omitempty"`
}

// SkippedDate records a date excluded from simulation and why.
type SkippedDate struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// Summary holds the aggregate KPIs of a run.
type Summary struct {
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	HitRate     float64 `json:"hit_rate"`
	ActiveDays  int     `json:"active_days"`
	TradedDays  int     `json:"traded_days"`
	Rebalances  int     `json:"rebalances"`
}

// Report is the read-only output of a run. Every recoverable condition
// absorbed during simulation is enumerated here so fallbacks are auditable
// rather than hidden.
type Report struct {
	RunID      string             `json:"run_id"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Rows       []Row              `json:"rows"`
	Timeline   regime.Timeline    `json:"timeline"`
	Rebalances []*basket.Snapshot `json:"rebalances"`
	Skipped    []SkippedDate      `json:"skipped,omitempty"`
	Summary    Summary            `json:"summary"`
}

// EquityCurve returns the per-row equity values.
func (r *Report) EquityCurve() []float64 {
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Equity
	}
	return out
}

// Summarize computes the KPI block for an arbitrary row slice, e.g. one
// walk-forward test window cut out of a stitched run.
func Summarize(rows []Row, rebalances int) Summary {
	return summarize(rows, rebalances)
}

// summarize computes the KPI block from the rows.
func summarize(rows []Row, rebalances int) Summary {
	s := Summary{Rebalances: rebalances}
	if len(rows) == 0 {
		return s
	}
	final := rows[len(rows)-1].Equity
	s.TotalReturn = final - 1

	days := rows[len(rows)-1].Date.Sub(rows[0].Date).Hours()/24 + 1
	if days > 0 && final > 0 {
		s.CAGR = math.Pow(final, 365/days) - 1
	}

	var rets []float64
	var wins int
	peak := 1.0
	for _, row := range rows {
		if row.Equity > peak {
			peak = row.Equity
		}
		if dd := 1 - row.Equity/peak; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
		if row.Gross > 0 {
			s.ActiveDays++
			rets = append(rets, row.Net)
			if row.Net > 0 {
				wins++
			}
		}
		if row.Turnover > 0 {
			s.TradedDays++
		}
	}
	if s.ActiveDays > 0 {
		s.HitRate = float64(wins) / float64(s.ActiveDays)
	}
	if len(rets) > 1 {
		mean := 0.0
		for _, r := range rets {
			mean += r
		}
		mean /= float64(len(rets))
		var ss float64
		for _, r := range rets {
			d := r - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(len(rets)-1))
		if std > 1e-12 {
			s.Sharpe = mean / std * math.Sqrt(365)
		}
	}
	return s
}
