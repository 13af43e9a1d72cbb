package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	reversals       *prometheus.CounterVec
	payments        *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	discrepancies   prometheus.Gauge
}

// NewMetrics initialises the registry with HTTP and ledger metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prenda_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prenda_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prenda_ledger_movements_total",
		Help: "Cash movements appended by concept and direction.",
	}, []string{"concept", "type"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prenda_ledger_reversals_total",
		Help: "Movements reversed by concept of the original.",
	}, []string{"concept"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prenda_credit_payments_total",
		Help: "Credit payments by operation.",
	}, []string{"operation"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prenda_reconciliations_total",
		Help: "Register reconciliations by outcome.",
	}, []string{"result"})
	discrepancies := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prenda_open_discrepancies",
		Help: "Register/day mismatches found by the last trailing-window scan.",
	})
	registry.MustRegister(requests, duration, movements, reversals, payments, reconciliations, discrepancies)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		reversals:       reversals,
		payments:        payments,
		reconciliations: reconciliations,
		discrepancies:   discrepancies,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// RecordMovement counts an appended cash movement.
func (m *Metrics) RecordMovement(concept, kind string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(concept, kind).Inc()
}

// RecordReversal counts a reversed movement.
func (m *Metrics) RecordReversal(concept string) {
	if m == nil {
		return
	}
	m.reversals.WithLabelValues(concept).Inc()
}

// RecordPayment counts an applied credit payment.
func (m *Metrics) RecordPayment(operation string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(operation).Inc()
}

// RecordReconciliation counts one register reconciliation.
func (m *Metrics) RecordReconciliation(matched bool) {
	if m == nil {
		return
	}
	result := "mismatch"
	if matched {
		result = "match"
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

// SetOpenDiscrepancies publishes the size of the latest mismatch report.
func (m *Metrics) SetOpenDiscrepancies(n int) {
	if m == nil {
		return
	}
	m.discrepancies.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
