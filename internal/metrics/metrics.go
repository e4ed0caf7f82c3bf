// Package metrics exposes the reconciliation engine's counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smsinbox"

// Metrics groups the collectors. All methods are safe on a nil receiver so
// components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	appended      *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	discovered    prometheus.Counter
	notAddressed  prometheus.Counter
	staleDropped  *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	notifications prometheus.Counter
	sends         *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_appended_total",
			Help: "Messages inserted into the conversation store, by source.",
		}, []string{"source"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_duplicate_total",
			Help: "Messages ignored because their id was already stored, by source.",
		}, []string{"source"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "contacts_discovered_total",
			Help: "Contacts synthesized from message counterparts.",
		}),
		notAddressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "realtime_not_addressed_total",
			Help: "Realtime events dropped because the recipient is not an owned account.",
		}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_stale_total",
			Help: "Snapshot results discarded because a newer mutation superseded them.",
		}, []string{"scope"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_failures_total",
			Help: "Backend fetches that failed, by scope.",
		}, []string{"scope"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications raised for messages arriving on the open thread.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sends_total",
			Help: "Outbound messages, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.appended, m.duplicates, m.discovered, m.notAddressed,
		m.staleDropped, m.fetchFailures, m.notifications, m.sends,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageAppended(source string) {
	if m != nil {
		m.appended.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) MessageDuplicate(source string) {
	if m != nil {
		m.duplicates.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ContactDiscovered() {
	if m != nil {
		m.discovered.Inc()
	}
}

func (m *Metrics) NotAddressed() {
	if m != nil {
		m.notAddressed.Inc()
	}
}

func (m *Metrics) StaleSnapshot(scope string) {
	if m != nil {
		m.staleDropped.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) FetchFailed(scope string) {
	if m != nil {
		m.fetchFailures.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) Notified() {
	if m != nil {
		m.notifications.Inc()
	}
}

func (m *Metrics) Sent(result string) {
	if m != nil {
		m.sends.WithLabelValues(result).Inc()
	}
}
