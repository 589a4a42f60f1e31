package reconciler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts webhook outcomes.
type Metrics struct {
	Events   *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the webhook metrics and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Webhook deliveries by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_webhook_duration_seconds",
				Help:    "Webhook handling latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Duration)
	}
	return m
}

func (m *Metrics) observe(eventType string, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.Events.WithLabelValues(eventType, string(outcome)).Inc()
	m.Duration.Observe(elapsed.Seconds())
}
