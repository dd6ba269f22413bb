package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks queue admissions and state changes.
type Metrics struct {
	Admissions       *prometheus.CounterVec
	AdmitRetries     prometheus.Counter
	AdmitDuration    prometheus.Histogram
	Transitions      *prometheus.CounterVec
	WalkinResets     prometheus.Counter
	PublishFailures  prometheus.Counter
	AuditLogFailures prometheus.Counter
}

// New registers the queue metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_admissions_total",
			Help: "Admission attempts by numbering namespace and outcome",
		}, []string{"namespace", "outcome"}),
		AdmitRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "queue_admit_retries_total",
			Help: "Admissions retried after a number collision or serialization failure",
		}),
		AdmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_admit_duration_seconds",
			Help:    "Duration of admissions including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "State transitions by action and outcome",
		}, []string{"action", "outcome"}),
		WalkinResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "queue_walkin_resets_total",
			Help: "Walk-in queue resets",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "queue_event_publish_failures_total",
			Help: "Queue change notifications that could not be published",
		}),
		AuditLogFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "queue_admin_log_failures_total",
			Help: "Admin actions that could not be written to the admin log",
		}),
	}
}

func (m *Metrics) ObserveAdmit(namespace, outcome string, start time.Time) {
	m.Admissions.WithLabelValues(namespace, outcome).Inc()
	m.AdmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRetry() {
	m.AdmitRetries.Inc()
}

func (m *Metrics) IncrementTransition(action, outcome string) {
	m.Transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncrementWalkinReset() {
	m.WalkinResets.Inc()
}

func (m *Metrics) IncrementPublishFailure() {
	m.PublishFailures.Inc()
}

func (m *Metrics) IncrementAuditFailure() {
	m.AuditLogFailures.Inc()
}
