// Package metrics exposes Prometheus collectors for the lab workflow and the
// HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds all application collectors. A nil *Metrics is valid and
// records nothing, which keeps services usable in tests without a registry.
type Metrics struct {
	registry *prometheus.Registry

	VisitsCreated     prometheus.Counter
	TestTransitions   *prometheus.CounterVec
	LedgerEntries     *prometheus.CounterVec
	LedgerAmount      *prometheus.CounterVec
	PaymentsCollected prometheus.Counter
	ConflictRetries   prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		VisitsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lims_visits_created_total",
			Help: "Total visits registered",
		}),
		TestTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_test_transitions_total",
			Help: "Visit test status transitions by target status",
		}, []string{"to"}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_ledger_entries_total",
			Help: "Ledger entries appended by type",
		}, []string{"type"}),
		LedgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_ledger_amount_total",
			Help: "Sum of ledger entry amounts by type",
		}, []string{"type"}),
		PaymentsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lims_payments_collected_total",
			Help: "Due payments collected against visits",
		}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lims_conflict_retries_total",
			Help: "Units of work re-run after a concurrent modification",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lims_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lims_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.VisitsCreated,
		m.TestTransitions,
		m.LedgerEntries,
		m.LedgerAmount,
		m.PaymentsCollected,
		m.ConflictRetries,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// RegisterPoolGauges exposes connection pool sizes read on each scrape.
func (m *Metrics) RegisterPoolGauges(stats func() (acquired, idle, total int32)) {
	if m == nil {
		return
	}
	gauge := func(name, help string, pick func(a, i, t int32) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			a, i, t := stats()
			return float64(pick(a, i, t))
		})
	}
	m.registry.MustRegister(
		gauge("lims_db_connections_acquired", "Connections currently in use", func(a, _, _ int32) int32 { return a }),
		gauge("lims_db_connections_idle", "Idle connections", func(_, i, _ int32) int32 { return i }),
		gauge("lims_db_connections_total", "Open connections", func(_, _, t int32) int32 { return t }),
	)
}

func (m *Metrics) VisitCreated() {
	if m == nil {
		return
	}
	m.VisitsCreated.Inc()
}

func (m *Metrics) TestTransition(to string) {
	if m == nil {
		return
	}
	m.TestTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) LedgerEntry(entryType string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(entryType).Inc()
	m.LedgerAmount.WithLabelValues(entryType).Add(amount.InexactFloat64())
}

func (m *Metrics) PaymentCollected() {
	if m == nil {
		return
	}
	m.PaymentsCollected.Inc()
}

func (m *Metrics) ConflictRetried() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}

// ObserveRequest matches middleware.RequestObserver.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EchoHandler() echo.HandlerFunc {
	return echo.WrapHandler(m.Handler())
}
