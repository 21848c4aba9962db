package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Record/Set method is safe to
// call on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsLive     prometheus.Gauge
	SessionsLaunched prometheus.Counter
	Transitions      *prometheus.CounterVec
	FocusChanges     prometheus.Counter
	TeardownTimeouts prometheus.Counter

	// Capability metrics
	CapabilityChecks *prometheus.CounterVec
	AuditDropped     prometheus.Counter

	// Router metrics
	Messages         *prometheus.CounterVec
	MailboxOverflows prometheus.Counter
	Requests         *prometheus.CounterVec
	RequestLatency   prometheus.Histogram
	PendingRequests  prometheus.Gauge

	// Surface metrics
	SurfaceDeliveries *prometheus.CounterVec
	WSConnections     prometheus.Gauge
	WSMessages        *prometheus.CounterVec

	// Monitor metrics
	ResourceAdvisories *prometheus.CounterVec
	SessionMemory      *prometheus.GaugeVec
	SessionCPU         *prometheus.GaugeVec

	// Catalog metrics
	CatalogApps prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	LiveSessions      int64   `json:"live_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	MessagesRouted    int64   `json:"messages_routed"`
	CapabilityDenials int64   `json:"capability_denials"`
	TotalDuration     float64 `json:"total_duration_seconds"` // sum of all request durations
	RequestCount      int64   `json:"request_count"`          // count for averaging
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsLive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "apphost_sessions_live",
				Help: "Number of sessions not yet closing",
			},
		),
		SessionsLaunched: f.NewCounter(
			prometheus.CounterOpts{
				Name: "apphost_sessions_launched_total",
				Help: "Total number of sessions created",
			},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_session_transitions_total",
				Help: "Session state transitions by target state",
			},
			[]string{"to"},
		),
		FocusChanges: f.NewCounter(
			prometheus.CounterOpts{
				Name: "apphost_focus_changes_total",
				Help: "Total number of focus changes",
			},
		),
		TeardownTimeouts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "apphost_teardown_timeouts_total",
				Help: "Sessions force-removed after the teardown grace period",
			},
		),

		// Capability metrics
		CapabilityChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_capability_checks_total",
				Help: "Capability checks by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		AuditDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "apphost_audit_dropped_total",
				Help: "Audit entries dropped because the queue was full",
			},
		),

		// Router metrics
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_messages_total",
				Help: "Routed messages by pattern and status",
			},
			[]string{"pattern", "status"},
		),
		MailboxOverflows: f.NewCounter(
			prometheus.CounterOpts{
				Name: "apphost_mailbox_overflows_total",
				Help: "Messages evicted from full mailboxes",
			},
		),
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_requests_total",
				Help: "Request/response exchanges by outcome",
			},
			[]string{"outcome"},
		),
		RequestLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apphost_request_latency_seconds",
				Help:    "Time from request to resolution",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		PendingRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "apphost_requests_pending",
				Help: "Requests awaiting a reply",
			},
		),

		// Surface metrics
		SurfaceDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_surface_deliveries_total",
				Help: "Messages handed to render surfaces by status",
			},
			[]string{"status"},
		),
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "apphost_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// Monitor metrics
		ResourceAdvisories: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_resource_advisories_total",
				Help: "Resource ceiling advisories by kind",
			},
			[]string{"kind"},
		),
		SessionMemory: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apphost_session_memory_bytes",
				Help: "Last sampled memory per session",
			},
			[]string{"session", "app"},
		),
		SessionCPU: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apphost_session_cpu_percent",
				Help: "Last sampled CPU percent per session",
			},
			[]string{"session", "app"},
		),

		// Catalog metrics
		CatalogApps: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "apphost_catalog_apps",
				Help: "Number of app manifests in the catalog",
			},
		),
	}

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "apphost_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot returns the current JSON-friendly values
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetSessionsLive sets the number of live sessions
func (m *Metrics) SetSessionsLive(count int) {
	if m == nil {
		return
	}
	m.SessionsLive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.LiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsLaunched increments the launched sessions counter
func (m *Metrics) IncSessionsLaunched() {
	if m == nil {
		return
	}
	m.SessionsLaunched.Inc()
}

// RecordTransition counts a session entering state
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

// IncFocusChanges increments the focus change counter
func (m *Metrics) IncFocusChanges() {
	if m == nil {
		return
	}
	m.FocusChanges.Inc()
}

// IncTeardownTimeouts increments the forced teardown counter
func (m *Metrics) IncTeardownTimeouts() {
	if m == nil {
		return
	}
	m.TeardownTimeouts.Inc()
}

// RecordCapabilityCheck records one enforcer decision
func (m *Metrics) RecordCapabilityCheck(category string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
		m.mu.Lock()
		m.snapshot.CapabilityDenials++
		m.mu.Unlock()
	}
	m.CapabilityChecks.WithLabelValues(category, outcome).Inc()
}

// AddAuditDropped adds to the dropped audit entries counter
func (m *Metrics) AddAuditDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.AuditDropped.Add(float64(n))
}

// RecordMessage records a routed message
func (m *Metrics) RecordMessage(pattern, status string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(pattern, status).Inc()
	m.mu.Lock()
	m.snapshot.MessagesRouted++
	m.mu.Unlock()
}

// IncMailboxOverflows increments the mailbox eviction counter
func (m *Metrics) IncMailboxOverflows() {
	if m == nil {
		return
	}
	m.MailboxOverflows.Inc()
}

// RecordRequest records how a request resolved and how long it took
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.RequestLatency.Observe(duration.Seconds())
}

// SetPendingRequests sets the number of outstanding requests
func (m *Metrics) SetPendingRequests(count int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(count))
}

// RecordSurfaceDelivery records a message handed to a render surface
func (m *Metrics) RecordSurfaceDelivery(status string) {
	if m == nil {
		return
	}
	m.SurfaceDeliveries.WithLabelValues(status).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// RecordResourceAdvisory counts a ceiling advisory
func (m *Metrics) RecordResourceAdvisory(kind string) {
	if m == nil {
		return
	}
	m.ResourceAdvisories.WithLabelValues(kind).Inc()
}

// SetSessionUsage publishes a session's last sample
func (m *Metrics) SetSessionUsage(session, app string, memoryBytes uint64, cpuPercent float64) {
	if m == nil {
		return
	}
	m.SessionMemory.WithLabelValues(session, app).Set(float64(memoryBytes))
	m.SessionCPU.WithLabelValues(session, app).Set(cpuPercent)
}

// ForgetSession removes a session's usage series
func (m *Metrics) ForgetSession(session, app string) {
	if m == nil {
		return
	}
	m.SessionMemory.DeleteLabelValues(session, app)
	m.SessionCPU.DeleteLabelValues(session, app)
}

// SetCatalogApps sets the number of apps in the catalog
func (m *Metrics) SetCatalogApps(count int) {
	if m == nil {
		return
	}
	m.CatalogApps.Set(float64(count))
}
