package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts executor outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	renewals *prometheus.CounterVec
	replays  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "requests_total",
			Help:      "Authenticated calls by final outcome.",
		}, []string{"outcome"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "renewals_total",
			Help:      "Access token renewals by result.",
		}, []string{"result"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "replays_total",
			Help:      "Calls replayed after a successful renewal.",
		}),
	}
	reg.MustRegister(m.requests, m.renewals, m.replays)
	return m
}

func (m *Metrics) request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) renewal(result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(result).Inc()
}

func (m *Metrics) replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}
