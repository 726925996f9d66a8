package regime

// Label is the discrete market regime. Order is ascending in composite
// score: high scores favor the majors, low scores favor the alt basket.
type Label int

const (
	StrongAlts Label = iota
	WeakAlts
	Balanced
	WeakMajors
	StrongMajors
)

func (l Label) String() string {
	switch l {
	case StrongAlts:
		return "strong_risk_on_alts"
	case WeakAlts:
		return "weak_risk_on_alts"
	case Balanced:
		return "balanced"
	case WeakMajors:
		return "weak_risk_on_majors"
	case StrongMajors:
		return "strong_risk_on_majors"
	default:
		return "unknown"
	}
}

// Tradeable reports whether the label is in the trade family: the strategy
// only holds positions in the majors risk-on states.
func (l Label) Tradeable() bool {
	return l == WeakMajors || l == StrongMajors
}

// Weak reports whether the label is a weak regime variant, which the risk
// layer scales down relative to strong variants.
func (l Label) Weak() bool {
	return l == WeakMajors || l == WeakAlts
}

// Collapse maps the 5-level set onto the reduced 3-level set.
func (l Label) Collapse() Label {
	switch l {
	case StrongAlts:
		return WeakAlts
	case StrongMajors:
		return WeakMajors
	default:
		return l
	}
}

// CoarseString names the collapsed 3-level regime.
func (l Label) CoarseString() string {
	switch l.Collapse() {
	case WeakAlts:
		return "risk_on_alts"
	case WeakMajors:
		return "risk_on_majors"
	default:
		return "balanced"
	}
}
