package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine counters. A nil *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	administrations  *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	ledgerChanges    *prometheus.CounterVec
	refreshFailures  prometheus.Counter
	snapshotsCreated prometheus.Counter
}

// NewMetrics registers the engine counters on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		administrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mar",
			Name:      "administrations_recorded_total",
			Help:      "Administration records created, by status.",
		}, []string{"status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mar",
			Name:      "administration_rejections_total",
			Help:      "Administration attempts rejected by the validator, by reason.",
		}, []string{"reason"}),
		ledgerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mar",
			Name:      "ledger_changes_total",
			Help:      "Stock ledger changes appended, by category.",
		}, []string{"category"}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mar",
			Name:      "ledger_refresh_failures_total",
			Help:      "Failed re-snapshots of other medications after a ledger change.",
		}),
		snapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mar",
			Name:      "daily_stock_entries_created_total",
			Help:      "Ledger entries created by the daily snapshot.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.administrations,
		m.rejections,
		m.ledgerChanges,
		m.refreshFailures,
		m.snapshotsCreated,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Administration(status string) {
	if m == nil {
		return
	}
	m.administrations.WithLabelValues(status).Inc()
}

func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) LedgerChange(category string) {
	if m == nil {
		return
	}
	m.ledgerChanges.WithLabelValues(category).Inc()
}

func (m *Metrics) RefreshFailure() {
	if m == nil {
		return
	}
	m.refreshFailures.Inc()
}

func (m *Metrics) SnapshotsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.snapshotsCreated.Add(float64(n))
}
