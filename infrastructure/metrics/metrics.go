// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/selun-engine/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Allocation pipeline metrics
	PhaseRunsTotal    *prometheus.CounterVec
	PhaseDuration     *prometheus.HistogramVec
	MacroSourceFailed *prometheus.CounterVec

	// Payment metrics
	PaymentConfirmationsTotal *prometheus.CounterVec
	PaymentConfirmDuration    prometheus.Histogram

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		PhaseRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phase_runs_total",
				Help: "Total number of allocation phase runs",
			},
			[]string{"phase", "status"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phase_duration_seconds",
				Help:    "Allocation phase run duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"phase"},
		),
		MacroSourceFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macro_source_failed_total",
				Help: "Total number of macro data source failures",
			},
			[]string{"domain", "source"},
		),

		PaymentConfirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_confirmations_total",
				Help: "Total number of on-chain payment confirmation attempts",
			},
			[]string{"status"},
		),
		PaymentConfirmDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_confirm_duration_seconds",
				Help:    "On-chain payment confirmation duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.PhaseRunsTotal,
			m.PhaseDuration,
			m.MacroSourceFailed,
			m.PaymentConfirmationsTotal,
			m.PaymentConfirmDuration,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordPhaseRun records one allocation phase's run outcome and duration.
func (m *Metrics) RecordPhaseRun(phase, status string, duration time.Duration) {
	m.PhaseRunsTotal.WithLabelValues(phase, status).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordMacroSourceFailure records a macro data source failure.
func (m *Metrics) RecordMacroSourceFailure(domain, source string) {
	m.MacroSourceFailed.WithLabelValues(domain, source).Inc()
}

// RecordPaymentConfirmation records an on-chain payment confirmation attempt.
func (m *Metrics) RecordPaymentConfirmation(status string, duration time.Duration) {
	m.PaymentConfirmationsTotal.WithLabelValues(status).Inc()
	m.PaymentConfirmDuration.Observe(duration.Seconds())
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
