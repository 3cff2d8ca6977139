package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. The recording helpers are nil-safe so
// components can be constructed without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Business metrics
	InvoicesCreatedTotal *prometheus.CounterVec
	InvoiceReplaysTotal  prometheus.Counter
	QuotaRejectionsTotal *prometheus.CounterVec
	WebhookEventsTotal   *prometheus.CounterVec
	PlanTransitionsTotal *prometheus.CounterVec
	PDFRenderDuration    *prometheus.HistogramVec
	PDFRendersTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_storage_operations_total",
				Help: "Total number of object storage operations",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_storage_operation_duration_seconds",
				Help:    "Object storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invoicer_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invoicer_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invoicer_db_connections_wait_count",
			Help: "Total number of waits for a database connection",
		}),

		InvoicesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_invoices_created_total",
				Help: "Total number of invoices created",
			},
			[]string{"plan"},
		),
		InvoiceReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoicer_invoice_idempotent_replays_total",
			Help: "Invoice creations answered from an earlier request with the same idempotency key",
		}),
		QuotaRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_quota_rejections_total",
				Help: "Requests rejected by plan limits",
			},
			[]string{"plan", "resource"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_webhook_events_total",
				Help: "Billing webhook events by type and outcome",
			},
			[]string{"type", "result"},
		),
		PlanTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_plan_transitions_total",
				Help: "Plan changes applied to users",
			},
			[]string{"to", "source"},
		),
		PDFRenderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_pdf_render_duration_seconds",
				Help:    "PDF render duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		PDFRendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_pdf_renders_total",
				Help: "PDF renders by kind and status",
			},
			[]string{"kind", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsWaitCount,
		m.InvoicesCreatedTotal,
		m.InvoiceReplaysTotal,
		m.QuotaRejectionsTotal,
		m.WebhookEventsTotal,
		m.PlanTransitionsTotal,
		m.PDFRenderDuration,
		m.PDFRendersTotal,
	)

	return m
}

// InvoiceCreated counts a freshly numbered invoice
func (m *Metrics) InvoiceCreated(plan string) {
	if m == nil {
		return
	}
	m.InvoicesCreatedTotal.WithLabelValues(plan).Inc()
}

// InvoiceReplayed counts an idempotent replay
func (m *Metrics) InvoiceReplayed() {
	if m == nil {
		return
	}
	m.InvoiceReplaysTotal.Inc()
}

// QuotaRejected counts a plan limit rejection
func (m *Metrics) QuotaRejected(plan, resource string) {
	if m == nil {
		return
	}
	m.QuotaRejectionsTotal.WithLabelValues(plan, resource).Inc()
}

// WebhookEvent counts a processed webhook event
func (m *Metrics) WebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

// PlanTransition counts a user moving to plan "to"
func (m *Metrics) PlanTransition(to, source string) {
	if m == nil {
		return
	}
	m.PlanTransitionsTotal.WithLabelValues(to, source).Inc()
}

// PDFRendered records a render attempt
func (m *Metrics) PDFRendered(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PDFRendersTotal.WithLabelValues(kind, status).Inc()
	m.PDFRenderDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// StorageOperation records an object storage call
func (m *Metrics) StorageOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(op, status).Inc()
	m.StorageOperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// CacheResult records a hit or a miss for the named cache
func (m *Metrics) CacheResult(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux path template so invoice IDs do not explode
// label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests. Install it with
// router.Use so the matched route is available.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
