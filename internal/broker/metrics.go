package broker

import (
	"github.com/dontdude/walq/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "walq"

// Metrics exports broker activity to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	events         *prometheus.CounterVec
	connections    prometheus.Gauge
	protocolErrors prometheus.Counter
	journalErrors  prometheus.Counter
}

var _ domain.Observer = (*Metrics)(nil)

// NewMetrics registers the broker collectors on reg and subscribes to mgr's events.
func NewMetrics(reg prometheus.Registerer, mgr *Manager) *Metrics {
	mt := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_events_total",
			Help:      "Job state transitions by kind.",
		}, []string{"kind"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Command lines rejected as malformed or unknown.",
		}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "journal_errors_total",
			Help:      "Journal appends that failed.",
		}),
	}
	reg.MustRegister(
		mt.events,
		mt.connections,
		mt.protocolErrors,
		mt.journalErrors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ready_jobs",
			Help:      "Jobs waiting for a lease.",
		}, func() float64 { return float64(mgr.Stats().Ready) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_jobs",
			Help:      "Jobs leased and not yet acknowledged.",
		}, func() float64 { return float64(mgr.Stats().InFlight) }),
	)
	mgr.Observe(mt)
	return mt
}

func (mt *Metrics) Notify(ev domain.Event) {
	mt.events.WithLabelValues(string(ev.Kind)).Inc()
}

func (mt *Metrics) connOpened() {
	if mt != nil {
		mt.connections.Inc()
	}
}

func (mt *Metrics) connClosed() {
	if mt != nil {
		mt.connections.Dec()
	}
}

func (mt *Metrics) protocolError() {
	if mt != nil {
		mt.protocolErrors.Inc()
	}
}

func (mt *Metrics) journalError() {
	if mt != nil {
		mt.journalErrors.Inc()
	}
}
