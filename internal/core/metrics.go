package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	observations    *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
}

// NewMetrics registers the collectors on reg. inboxDrops reports the
// supplier's overwrite count; nil skips that gauge.
func NewMetrics(reg prometheus.Registerer, inboxDrops func() float64) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		observations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liveocr_observations_total",
			Help: "Observations offered to capture sessions, by gate outcome.",
		}, []string{"outcome"}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liveocr_sessions_total",
			Help: "Finished capture sessions, by result.",
		}, []string{"result"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveocr_session_duration_seconds",
			Help:    "Time from session start to fired or cancelled.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}

	if inboxDrops != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "liveocr_supplier_inbox_drops",
			Help: "Observations overwritten in the supplier inbox before distribution.",
		}, inboxDrops)
	}
	return m
}

func (m *Metrics) observation(kind stabilitygate.OutcomeKind) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) sessionEnded(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result).Inc()
	m.sessionDuration.Observe(elapsed.Seconds())
}
