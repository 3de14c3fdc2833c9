package fanout

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// Metrics holds the fan-out collectors. A nil *Metrics records nothing.
type Metrics struct {
	Published  *prometheus.CounterVec
	Recipients *prometheus.CounterVec
}

// NewMetrics creates the fan-out collectors and registers them with reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "fanout_published_total",
			Help:      "Events published, by outcome.",
		}, []string{"kind", "result"}),
		Recipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookpipe",
			Name:      "fanout_recipients_total",
			Help:      "Notification records written.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.Recipients)
	}
	return m
}

func (m *Metrics) published(kind core.NotificationKind, result string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) recipients(kind core.NotificationKind, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Recipients.WithLabelValues(string(kind)).Add(float64(n))
}
