// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autodelivery"

// Claim outcomes.
const (
	OutcomeDelivered     = "delivered"
	OutcomeReplayed      = "replayed"
	OutcomePendingManual = "pending_manual"
	OutcomeError         = "error"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	claimsTotal       *prometheus.CounterVec
	claimRetriesTotal prometheus.Counter
	claimDuration     prometheus.Histogram
	importLinesTotal  *prometheus.CounterVec
	revealsTotal      prometheus.Counter
	stockAvailable    *prometheus.GaugeVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Claims processed, by outcome.",
	}, []string{"outcome"})

	m.claimRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_retries_total",
		Help:      "Claim attempts repeated after a transient storage conflict.",
	})

	m.claimDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "claim_duration_seconds",
		Help:      "End-to-end claim latency.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	m.importLinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "import_lines_total",
		Help:      "Bulk import lines, by result.",
	}, []string{"result"})

	m.revealsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reveals_total",
		Help:      "Delivered records revealed for the first time.",
	})

	m.stockAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stock_available",
		Help:      "Available pool items per scope, as of the last sweep.",
	}, []string{"product_id", "item_type"})

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.claimsTotal,
		m.claimRetriesTotal,
		m.claimDuration,
		m.importLinesTotal,
		m.revealsTotal,
		m.stockAvailable,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveClaim records one finished claim.
func (m *Metrics) ObserveClaim(outcome string, elapsed time.Duration) {
	m.claimsTotal.WithLabelValues(outcome).Inc()
	m.claimDuration.Observe(elapsed.Seconds())
}

// IncClaimRetry records one conflict retry.
func (m *Metrics) IncClaimRetry() {
	m.claimRetriesTotal.Inc()
}

// ObserveImport records the line counts of one bulk import.
func (m *Metrics) ObserveImport(created, skipped int) {
	m.importLinesTotal.WithLabelValues("created").Add(float64(created))
	m.importLinesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// IncReveal records a first reveal.
func (m *Metrics) IncReveal() {
	m.revealsTotal.Inc()
}

// SetStockAvailable records a scope's availability.
func (m *Metrics) SetStockAvailable(productID, itemType string, available int) {
	m.stockAvailable.WithLabelValues(productID, itemType).Set(float64(available))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
