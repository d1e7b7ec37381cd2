// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the session engine.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Prometheus configuration
	MetricsPath string // HTTP path for metrics endpoint (default: /metrics)
	MetricsPort int    // Port for metrics server (default: 9090)

	// Registry to register collectors with. Nil means a provider-private
	// registry, which keeps parallel providers in one process from
	// colliding.
	Registry *prometheus.Registry

	// Metric options
	Namespace        string    // Prometheus namespace (default: mcp)
	Subsystem        string    // Prometheus subsystem (default: session)
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels
}

// SessionMetrics is the metrics surface consulted by the session engine.
// All methods must be safe for concurrent use and must never block.
type SessionMetrics interface {
	// Outbound request lifecycle
	RecordRequest(method, outcome string, duration time.Duration)
	RecordNotificationSent(method string)

	// Inbound dispatch
	RecordInboundRequest(method, outcome string, duration time.Duration)
	RecordInboundNotification(method string)

	// Correlation table pressure
	PendingRequestsInc()
	PendingRequestsDec()

	// Settlement breakdown
	RecordTimeout(method string)
	RecordCancellation(origin string) // "caller" or "peer"

	// Handshake result, labelled by negotiated version or "failed"
	RecordHandshake(version, outcome string)

	// Management
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Request and handshake outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeClosed    = "transport_closed"
)

// Cancellation origin labels.
const (
	OriginCaller = "caller"
	OriginPeer   = "peer"
)

// PrometheusMetrics implements SessionMetrics using Prometheus
type PrometheusMetrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	inboundRequestDuration *prometheus.HistogramVec
	inboundRequestTotal    *prometheus.CounterVec

	notificationTotal *prometheus.CounterVec

	pendingRequests prometheus.Gauge

	timeoutTotal      *prometheus.CounterVec
	cancellationTotal *prometheus.CounterVec
	handshakeTotal    *prometheus.CounterVec
}

// NewPrometheusMetrics creates a Prometheus-backed metrics provider
func NewPrometheusMetrics(config MetricsConfig) (*PrometheusMetrics, error) {
	// Set defaults
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Subsystem == "" {
		config.Subsystem = "session"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsPort == 0 {
		config.MetricsPort = 9090
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		config.ConstLabels["version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		config.ConstLabels["environment"] = config.Environment
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	provider := &PrometheusMetrics{
		config:   config,
		registry: registry,
	}

	provider.initializeMetrics()

	if err := provider.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return provider, nil
}

// initializeMetrics creates all metric collectors
func (p *PrometheusMetrics) initializeMetrics() {
	p.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "request_duration_milliseconds",
			Help:        "Duration of outbound requests from send to settlement in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	p.requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "request_total",
			Help:        "Total number of outbound requests by settlement outcome",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	p.inboundRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "inbound_request_duration_milliseconds",
			Help:        "Duration of inbound request handler execution in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	p.inboundRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "inbound_request_total",
			Help:        "Total number of inbound requests dispatched to handlers",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	p.notificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "notification_total",
			Help:        "Total number of notifications by direction",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method", "direction"},
	)

	p.pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "pending_requests",
			Help:        "Number of outbound requests awaiting settlement",
			ConstLabels: p.config.ConstLabels,
		},
	)

	p.timeoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "request_timeout_total",
			Help:        "Total number of outbound requests settled by deadline expiry",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"method"},
	)

	p.cancellationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "cancellation_total",
			Help:        "Total number of cancellations by origin",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"origin"},
	)

	p.handshakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "handshake_total",
			Help:        "Total number of initialize handshakes by negotiated version",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"version", "outcome"},
	)
}

// registerMetrics registers all metrics with the registry
func (p *PrometheusMetrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.requestDuration,
		p.requestTotal,
		p.inboundRequestDuration,
		p.inboundRequestTotal,
		p.notificationTotal,
		p.pendingRequests,
		p.timeoutTotal,
		p.cancellationTotal,
		p.handshakeTotal,
	}

	for _, collector := range collectors {
		if err := p.registry.Register(collector); err != nil {
			// Check if already registered
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	return nil
}

// RecordRequest records a settled outbound request
func (p *PrometheusMetrics) RecordRequest(method, outcome string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.requestDuration.WithLabelValues(method, outcome).Observe(ms)
	p.requestTotal.WithLabelValues(method, outcome).Inc()
}

// RecordNotificationSent records an outbound notification
func (p *PrometheusMetrics) RecordNotificationSent(method string) {
	p.notificationTotal.WithLabelValues(method, "outbound").Inc()
}

// RecordInboundRequest records a completed inbound request dispatch
func (p *PrometheusMetrics) RecordInboundRequest(method, outcome string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.inboundRequestDuration.WithLabelValues(method, outcome).Observe(ms)
	p.inboundRequestTotal.WithLabelValues(method, outcome).Inc()
}

// RecordInboundNotification records an inbound notification dispatch
func (p *PrometheusMetrics) RecordInboundNotification(method string) {
	p.notificationTotal.WithLabelValues(method, "inbound").Inc()
}

// PendingRequestsInc bumps the correlation table gauge
func (p *PrometheusMetrics) PendingRequestsInc() {
	p.pendingRequests.Inc()
}

// PendingRequestsDec drops the correlation table gauge
func (p *PrometheusMetrics) PendingRequestsDec() {
	p.pendingRequests.Dec()
}

// RecordTimeout records a deadline-expired outbound request
func (p *PrometheusMetrics) RecordTimeout(method string) {
	p.timeoutTotal.WithLabelValues(method).Inc()
}

// RecordCancellation records a cancellation by origin
func (p *PrometheusMetrics) RecordCancellation(origin string) {
	p.cancellationTotal.WithLabelValues(origin).Inc()
}

// RecordHandshake records an initialize handshake result
func (p *PrometheusMetrics) RecordHandshake(version, outcome string) {
	if version == "" {
		version = "none"
	}
	p.handshakeTotal.WithLabelValues(version, outcome).Inc()
}

// Start starts the metrics HTTP server
func (p *PrometheusMetrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))

	p.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		_ = p.server.ListenAndServe()
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}

// NopMetrics is a SessionMetrics that discards everything. It is the
// default when no provider is configured.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(string, string, time.Duration)        {}
func (NopMetrics) RecordNotificationSent(string)                      {}
func (NopMetrics) RecordInboundRequest(string, string, time.Duration) {}
func (NopMetrics) RecordInboundNotification(string)                   {}
func (NopMetrics) PendingRequestsInc()                                {}
func (NopMetrics) PendingRequestsDec()                                {}
func (NopMetrics) RecordTimeout(string)                               {}
func (NopMetrics) RecordCancellation(string)                          {}
func (NopMetrics) RecordHandshake(string, string)                     {}
func (NopMetrics) Start(context.Context) error                        { return nil }
func (NopMetrics) Shutdown(context.Context) error                     { return nil }
