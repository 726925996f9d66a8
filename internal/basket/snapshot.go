package basket

import (
	"fmt"
	"time"
)

// Side marks which leg a constituent belongs to.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Constituent is one position in a snapshot. Short-leg weights are negative,
// long-leg weights positive.
type Constituent struct {
	Asset  string    `json:"asset"`
	Weight float64   `json:"weight"`
	Side   Side      `json:"side"`
	Betas  []float64 `json:"betas,omitempty"` // per reference asset
}

// Snapshot is the constructed position for one rebalance date.
type Snapshot struct {
	Date               time.Time     `json:"date"`
	Constituents       []Constituent `json:"constituents"`
	References         []string      `json:"references"`
	ResidualBeta       []float64     `json:"residual_beta"` // combined beta per reference after the solve
	NeutralityAchieved bool          `json:"neutrality_achieved"`
	Shortfall          bool          `json:"shortfall"` // fewer eligible candidates than requested
	SolvedBy           string        `json:"solved_by,omitempty"`
	Notes              []string      `json:"notes,omitempty"`
}

// IsFlat reports whether the snapshot carries no positions.
func (s *Snapshot) IsFlat() bool { return len(s.Constituents) == 0 }

// Weights returns asset -> signed weight for the whole position.
func (s *Snapshot) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.Constituents))
	for _, c := range s.Constituents {
		out[c.Asset] = c.Weight
	}
	return out
}

// LegGross returns the gross exposure of one leg (absolute weight sum).
func (s *Snapshot) LegGross(side Side) float64 {
	var g float64
	for _, c := range s.Constituents {
		if c.Side == side {
			if c.Weight < 0 {
				g -= c.Weight
			} else {
				g += c.Weight
			}
		}
	}
	return g
}

// InfeasibleError reports that the neutrality solve produced no acceptable
// non-negative long-leg allocation. Recoverable: the constructor falls back
// to proportional allocation and annotates the snapshot.
type InfeasibleError struct {
	Reason string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("neutrality solve infeasible: %s", e.Reason)
}
