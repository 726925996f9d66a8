package regime

import (
	"fmt"
	"math"
	"time"

	"altfade/internal/features"
)

// Params holds the fitted classifier parameters: feature weights for the
// composite score, the ordered entry thresholds, and the hysteresis margin.
// A Params value is produced per walk-forward step and never mutated after.
type Params struct {
	Weights    map[string]float64 `yaml:"weights" json:"weights"`
	Thresholds [4]float64         `yaml:"thresholds" json:"thresholds"` // ascending; bands: alts..majors
	ExitMargin float64            `yaml:"exit_margin" json:"exit_margin"`
	Levels     int                `yaml:"levels" json:"levels"` // 3 or 5
}

// DefaultParams returns the untuned starting parameters.
func DefaultParams() Params {
	return Params{
		Weights: map[string]float64{
			features.Breadth:          -0.15,
			features.Dispersion:       0.05,
			features.DominanceShift:   0.25,
			features.FundingSkew:      0.15,
			features.FundingHeat:      0.10,
			features.OpenInterestRisk: 0.05,
			features.LiquidityFlow:    -0.10,
			features.VolSpread:        0.10,
			features.CrossMomentum:    -0.20,
		},
		Thresholds: [4]float64{-1.5, -0.5, 0.5, 1.5},
		ExitMargin: 0.25,
		Levels:     5,
	}
}

// Validate rejects parameter combinations that cannot classify.
func (p Params) Validate() error {
	if p.Levels != 3 && p.Levels != 5 {
		return fmt.Errorf("levels must be 3 or 5, got %d", p.Levels)
	}
	for i := 1; i < len(p.Thresholds); i++ {
		if p.Thresholds[i] <= p.Thresholds[i-1] {
			return fmt.Errorf("thresholds must be strictly ascending")
		}
	}
	if p.ExitMargin < 0 {
		return fmt.Errorf("exit margin must be non-negative")
	}
	if len(p.Weights) == 0 {
		return fmt.Errorf("no feature weights")
	}
	return nil
}

// Score computes the composite score: the weighted sum of z-scored features.
func (p Params) Score(v features.Vector) float64 {
	var s float64
	for name, w := range p.Weights {
		s += w * v[name]
	}
	return s
}

// band maps a score to its entry band, ignoring hysteresis.
func (p Params) band(score float64) Label {
	t := p.Thresholds
	if p.Levels == 3 {
		// Reduced set uses the inner thresholds only.
		switch {
		case score < t[1]:
			return WeakAlts
		case score >= t[2]:
			return WeakMajors
		default:
			return Balanced
		}
	}
	switch {
	case score < t[0]:
		return StrongAlts
	case score < t[1]:
		return WeakAlts
	case score < t[2]:
		return Balanced
	case score < t[3]:
		return WeakMajors
	default:
		return StrongMajors
	}
}

// bounds returns the entry band [lo, hi) for a label.
func (p Params) bounds(l Label) (lo, hi float64) {
	t := p.Thresholds
	if p.Levels == 3 {
		switch l {
		case WeakAlts, StrongAlts:
			return math.Inf(-1), t[1]
		case Balanced:
			return t[1], t[2]
		default:
			return t[2], math.Inf(1)
		}
	}
	switch l {
	case StrongAlts:
		return math.Inf(-1), t[0]
	case WeakAlts:
		return t[0], t[1]
	case Balanced:
		return t[1], t[2]
	case WeakMajors:
		return t[2], t[3]
	default:
		return t[3], math.Inf(1)
	}
}

// Result is one classified date.
type Result struct {
	Date   time.Time `json:"date"`
	Label  Label     `json:"label"`
	Score  float64   `json:"score"`
	Scored bool      `json:"scored"` // false for variants without a continuous score
}

// Timeline is the ordered sequence of classified dates.
type Timeline []Result

// Classifier converts feature history into a regime label per date.
// Implementations are stateful: Advance must be called in strictly
// increasing date order. CompositeClassifier is the implemented variant;
// alternative unsupervised classifiers remain an open extension point.
type Classifier interface {
	Name() string
	Advance(date time.Time, v features.Vector) Result
	Reset()
}

// CompositeClassifier scores dates with a weighted feature sum and applies a
// hysteresis state machine: the held state only changes when the score
// leaves the state's entry band by more than the exit margin, landing in the
// new state's entry band. This keeps the label from flapping around a
// nominal threshold.
type CompositeClassifier struct {
	params Params
	state  Label
}

// NewCompositeClassifier creates a classifier in the initial Balanced state.
func NewCompositeClassifier(params Params) *CompositeClassifier {
	return &CompositeClassifier{params: params, state: Balanced}
}

func (c *CompositeClassifier) Name() string { return "composite_score" }

// Params returns the classifier's frozen parameters.
func (c *CompositeClassifier) Params() Params { return c.params }

// Reset returns the state machine to Balanced.
func (c *CompositeClassifier) Reset() { c.state = Balanced }

// SwapParams replaces the scoring parameters while keeping the held state,
// so a refit at a walk-forward step boundary does not force a position exit.
func (c *CompositeClassifier) SwapParams(p Params) { c.params = p }

// Advance classifies the next date in sequence.
func (c *CompositeClassifier) Advance(date time.Time, v features.Vector) Result {
	score := c.params.Score(v)
	naive := c.params.band(score)
	if naive != c.state {
		lo, hi := c.params.bounds(c.state)
		if score < lo-c.params.ExitMargin || score >= hi+c.params.ExitMargin {
			c.state = naive
		}
	}
	return Result{Date: date, Label: c.state, Score: score, Scored: true}
}
