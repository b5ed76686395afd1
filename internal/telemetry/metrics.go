package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP and domain collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	ordersComputed *prometheus.CounterVec
	vatLines       *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	csvImported    *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry so
// tests can build as many instances as they like.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vatpilot"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		ordersComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_computed_total",
				Help:      "Orders run through the VAT engine",
			},
			[]string{"mode"},
		),
		vatLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vat_lines_total",
				Help:      "VAT lines produced, by source and scheme",
			},
			[]string{"source", "scheme"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hmrc_submissions_total",
				Help:      "VAT return submissions, by outcome",
			},
			[]string{"outcome"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hmrc_token_refreshes_total",
				Help:      "HMRC access token refreshes, by outcome",
			},
			[]string{"outcome"},
		),
		csvImported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "csv_orders_total",
				Help:      "Orders read from CSV exports, by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.ordersComputed,
		m.vatLines,
		m.submissions,
		m.tokenRefreshes,
		m.csvImported,
	)
	return m
}

// Middleware records request count, latency and in-flight requests. The
// route label is the chi pattern, so path parameters do not explode the
// label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(wrapped.statusCode)
		m.requestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ── Domain counters ─────────────────────────────────────────────────────────
// All methods are nil-safe so services can run without metrics.

func (m *Metrics) OrderComputed(mode string) {
	if m == nil {
		return
	}
	m.ordersComputed.WithLabelValues(mode).Inc()
}

func (m *Metrics) LineProduced(source, scheme string) {
	if m == nil {
		return
	}
	m.vatLines.WithLabelValues(source, scheme).Inc()
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CSVOrders(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.csvImported.WithLabelValues(result).Add(float64(n))
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
