package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
// A nil *Metrics is valid and records nothing, which keeps instrumentation
// optional in tests.
type Metrics struct {
	turnsTotal     prometheus.Counter
	stageDuration  *prometheus.HistogramVec
	stageFallbacks *prometheus.CounterVec
	sessionsActive prometheus.Gauge
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto semantics; an already
// registered collector of the matching type is reused so repeated
// construction (e.g. in tests) does not fail.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	turnsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mira",
		Subsystem: "chat",
		Name:      "turns_total",
		Help:      "Total number of completed chat turns.",
	})
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mira",
			Subsystem: "chat",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage's upstream call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	stageFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "chat",
			Name:      "stage_fallbacks_total",
			Help:      "Number of stage executions that degraded to a fallback value.",
		},
		[]string{"stage"},
	)
	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mira",
		Subsystem: "chat",
		Name:      "sessions_active",
		Help:      "Number of live sessions in the store.",
	})

	for _, collector := range []prometheus.Collector{turnsTotal, stageDuration, stageFallbacks, sessionsActive} {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case turnsTotal:
				turnsTotal = already.ExistingCollector.(prometheus.Counter)
			case stageDuration:
				stageDuration = already.ExistingCollector.(*prometheus.HistogramVec)
			case stageFallbacks:
				stageFallbacks = already.ExistingCollector.(*prometheus.CounterVec)
			case sessionsActive:
				sessionsActive = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}

	return &Metrics{
		turnsTotal:     turnsTotal,
		stageDuration:  stageDuration,
		stageFallbacks: stageFallbacks,
		sessionsActive: sessionsActive,
	}
}

// ObserveStage records one stage execution. fallback marks executions that
// degraded instead of using the model's output.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, fallback bool) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if fallback {
		m.stageFallbacks.WithLabelValues(stage).Inc()
	}
}

// TurnCompleted counts one finished turn.
func (m *Metrics) TurnCompleted() {
	if m == nil {
		return
	}
	m.turnsTotal.Inc()
}

// SetSessionsActive reports the current live-session count.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
