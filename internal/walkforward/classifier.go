package walkforward

import (
	"time"

	"altfade/internal/features"
	"altfade/internal/regime"
)

// boundary activates a parameter set from a date onward.
type boundary struct {
	from   time.Time
	params regime.Params
}

// switchingClassifier drives one composite classifier through a schedule of
// fitted parameter sets, swapping at test-window boundaries. The hysteresis
// state survives the swap: a refit does not force an exit, the next score
// under the new parameters decides.
type switchingClassifier struct {
	schedule []boundary // ascending by from
	inner    *regime.CompositeClassifier
	next     int
}

func newSwitchingClassifier(schedule []boundary) *switchingClassifier {
	return &switchingClassifier{
		schedule: schedule,
		inner:    regime.NewCompositeClassifier(schedule[0].params),
		next:     1,
	}
}

func (s *switchingClassifier) Name() string { return "walkforward_switching" }

func (s *switchingClassifier) Reset() {
	s.inner = regime.NewCompositeClassifier(s.schedule[0].params)
	s.next = 1
}

func (s *switchingClassifier) Advance(date time.Time, v features.Vector) regime.Result {
	for s.next < len(s.schedule) && !date.Before(s.schedule[s.next].from) {
		s.inner.SwapParams(s.schedule[s.next].params)
		s.next++
	}
	return s.inner.Advance(date, v)
}
