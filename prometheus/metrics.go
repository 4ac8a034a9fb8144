package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Tenant operation counter
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_operations_total",
			Help: "Total number of tenant control-plane operations",
		},
		[]string{"operation"}, // "create", "status", "settings", "export", "delete", etc.
	)

	// Provisioning outcome counter
	ProvisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_provision_total",
			Help: "Total number of provisioning runs by outcome",
		},
		[]string{"outcome"}, // "ready" or "failed"
	)

	// Lifecycle job counter
	LifecycleJobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_lifecycle_jobs_total",
			Help: "Total number of lifecycle jobs by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: "export"|"deletion", outcome: "completed"|"failed"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	ErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_errors_total",
			Help: "Total number of control-plane errors by type",
		},
		[]string{"type"}, // "invalid_token", "no_membership", "slug_conflict", "ddl_failure", etc.
	)

	// Isolation denial counter. Increments whenever a request is rejected
	// before any tenant data was touched.
	IsolationDenialCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_isolation_denials_total",
			Help: "Total number of requests rejected by the tenant context router",
		},
		[]string{"reason"}, // "no_membership", "not_ready", "unauthenticated"
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "query", "insert", "update", "ddl"
	)

	// Provisioning duration
	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_provision_duration_seconds",
			Help:    "Duration of full provisioning runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Lifecycle job step duration
	JobStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_job_step_duration_seconds",
			Help:    "Duration of lifecycle job steps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "step"},
	)
)

// Gauge metrics
var (
	// Active tenants (status = ready)
	ActiveTenantsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_active_tenants",
			Help: "Number of tenants currently in ready status",
		},
	)

	// In-flight lifecycle jobs
	RunningJobsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_running_jobs",
			Help: "Number of lifecycle jobs currently processing",
		},
		[]string{"kind"},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_service_info",
			Help: "Information about the tenant service",
		},
		[]string{"version"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(ProvisionCounter)
	prometheus.MustRegister(LifecycleJobCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(ErrorCounter)
	prometheus.MustRegister(IsolationDenialCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(ProvisionDuration)
	prometheus.MustRegister(JobStepDuration)

	// Register gauges
	prometheus.MustRegister(ActiveTenantsGauge)
	prometheus.MustRegister(RunningJobsGauge)
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// TrackJobStep measures lifecycle job step durations
func TrackJobStep(kind, step string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		JobStepDuration.With(prometheus.Labels{
			"kind": kind,
			"step": step,
		}).Observe(duration)
	}
}

// RecordTenantOperation records a tenant control-plane operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordError records a control-plane error by type
func RecordError(errorType string) {
	ErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordIsolationDenial records a request rejected before touching tenant data
func RecordIsolationDenial(reason string) {
	IsolationDenialCounter.With(prometheus.Labels{"reason": reason}).Inc()
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}
