package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"altfade/internal/backtest"
	"altfade/internal/regime"
)

// Metrics is the process-level Prometheus registry: run counters, fallback
// accounting and the active regime. Everything hangs off a private registry
// so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        prometheus.Counter
	WalkforwardSteps prometheus.Counter
	Fallbacks        *prometheus.CounterVec
	RegimeSwitches   prometheus.Counter
	ActiveRegime     prometheus.Gauge
}

// NewMetrics builds and registers the metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altfade_runs_total",
			Help: "Completed backtest runs",
		}),
		WalkforwardSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altfade_walkforward_steps_total",
			Help: "Fitted walk-forward steps",
		}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "altfade_fallbacks_total",
			Help: "Recoverable conditions absorbed during runs, by reason",
		}, []string{"reason"}),
		RegimeSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altfade_regime_switches_total",
			Help: "Regime label transitions across observed timelines",
		}),
		ActiveRegime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altfade_active_regime",
			Help: "Most recent regime label ordinal (0 strong alts .. 4 strong majors)",
		}),
	}
	m.registry.MustRegister(m.RunsTotal, m.WalkforwardSteps, m.Fallbacks, m.RegimeSwitches, m.ActiveRegime)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun folds one completed report into the metric set.
func (m *Metrics) ObserveRun(report *backtest.Report) {
	m.RunsTotal.Inc()
	m.Fallbacks.WithLabelValues("skipped_date").Add(float64(len(report.Skipped)))
	for _, snap := range report.Rebalances {
		if snap.Shortfall {
			m.Fallbacks.WithLabelValues("candidate_shortfall").Inc()
		}
		if !snap.NeutralityAchieved {
			m.Fallbacks.WithLabelValues("neutrality_missed").Inc()
		}
	}
	m.ObserveTimeline(report.Timeline)
}

// ObserveTimeline records regime switches and the current label.
func (m *Metrics) ObserveTimeline(tl regime.Timeline) {
	if len(tl) == 0 {
		return
	}
	for i := 1; i < len(tl); i++ {
		if tl[i].Label != tl[i-1].Label {
			m.RegimeSwitches.Inc()
		}
	}
	m.ActiveRegime.Set(float64(tl[len(tl)-1].Label))
}
