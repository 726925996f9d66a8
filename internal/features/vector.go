package features

// Feature names emitted by the engine. The set is fixed per run; downstream
// weight vectors are keyed by these names.
const (
	Breadth          = "breadth"
	Dispersion       = "dispersion"
	DominanceShift   = "dominance_shift"
	FundingSkew      = "funding_skew"
	FundingHeat      = "funding_heat"
	OpenInterestRisk = "open_interest_risk"
	LiquidityFlow    = "liquidity_flow"
	VolSpread        = "vol_spread"
	CrossMomentum    = "cross_momentum"
)

// Names returns every feature name in stable order.
func Names() []string {
	return []string{
		Breadth,
		Dispersion,
		DominanceShift,
		FundingSkew,
		FundingHeat,
		OpenInterestRisk,
		LiquidityFlow,
		VolSpread,
		CrossMomentum,
	}
}

// Vector maps feature name to value for a single date.
type Vector map[string]float64

// Clone returns a copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
