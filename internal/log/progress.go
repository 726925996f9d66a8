package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tracker reports progress of a long-running operation: percentage and ETA
// over zerolog, one event per update. Safe for concurrent increments from
// worker goroutines.
type Tracker struct {
	mu      sync.Mutex
	name    string
	total   int
	current int
	start   time.Time
	clock   func() time.Time
	logger  zerolog.Logger
}

// NewTracker starts tracking total units of work under the given name.
func NewTracker(name string, total int) *Tracker {
	clock := time.Now
	return &Tracker{
		name:   name,
		total:  total,
		start:  clock(),
		clock:  clock,
		logger: log.Logger,
	}
}

// WithLogger redirects the tracker's events, mainly for tests.
func (t *Tracker) WithLogger(l zerolog.Logger) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = l
	return t
}

// Step records one completed unit with an optional message.
func (t *Tracker) Step(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current++
	ev := t.logger.Info().
		Str("op", t.name).
		Int("done", t.current).
		Int("total", t.total).
		Float64("pct", t.percent())
	if eta, ok := t.eta(); ok {
		ev = ev.Dur("eta", eta)
	}
	if message != "" {
		ev = ev.Str("msg", message)
	}
	ev.Msg("progress")
}

// Finish emits the completion event with the elapsed duration.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Info().
		Str("op", t.name).
		Int("done", t.current).
		Int("total", t.total).
		Dur("elapsed", t.clock().Sub(t.start)).
		Msg("complete")
}

// Fail emits a failure event naming the reason.
func (t *Tracker) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Error().
		Str("op", t.name).
		Int("done", t.current).
		Int("total", t.total).
		Str("reason", reason).
		Msg("failed")
}

func (t *Tracker) percent() float64 {
	if t.total <= 0 {
		return 0
	}
	return float64(t.current) / float64(t.total) * 100
}

func (t *Tracker) eta() (time.Duration, bool) {
	if t.total <= 0 || t.current <= 0 || t.current >= t.total {
		return 0, false
	}
	elapsed := t.clock().Sub(t.start)
	if elapsed <= 0 {
		return 0, false
	}
	perUnit := elapsed / time.Duration(t.current)
	return perUnit * time.Duration(t.total-t.current), true
}
