// Package metrics exposes the service's Prometheus collectors. All observe
// methods are safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	admissions        *prometheus.CounterVec
	usageConflicts    prometheus.Counter
	catalogFetches    *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	remoteCacheErrors *prometheus.CounterVec
	outboxDeliveries  *prometheus.CounterVec
}

// New builds a fresh registry with process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_admissions_total",
				Help: "Admission decisions by result and denial kind",
			},
			[]string{"result", "kind"},
		),

		usageConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keygate_usage_cas_conflicts_total",
				Help: "Usage debits retried after losing a compare-and-swap",
			},
		),

		catalogFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_billing_catalog_fetches_total",
				Help: "Billing catalog fetches by result",
			},
			[]string{"result"},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_cache_lookups_total",
				Help: "Cache lookups by cache name and result",
			},
			[]string{"cache", "result"},
		),

		remoteCacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_remote_cache_errors_total",
				Help: "Shared cache store errors absorbed by the response cache",
			},
			[]string{"op"},
		),

		outboxDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_outbox_deliveries_total",
				Help: "Outbox delivery attempts by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveAdmission(a domain.Admission) {
	if m == nil {
		return
	}
	if a.Admitted {
		m.admissions.WithLabelValues("admitted", "").Inc()
		return
	}
	m.admissions.WithLabelValues("denied", string(a.Kind)).Inc()
}

func (m *Metrics) ObserveUsageConflict() {
	if m == nil {
		return
	}
	m.usageConflicts.Inc()
}

func (m *Metrics) ObserveCatalogFetch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.catalogFetches.WithLabelValues("error").Inc()
		return
	}
	m.catalogFetches.WithLabelValues("ok").Inc()
}

func (m *Metrics) ObserveCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveRemoteCacheError(op string) {
	if m == nil {
		return
	}
	m.remoteCacheErrors.WithLabelValues(op).Inc()
}

// ObserveOutboxDelivery records one delivery outcome: dispatched, failed or dead.
func (m *Metrics) ObserveOutboxDelivery(result string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
