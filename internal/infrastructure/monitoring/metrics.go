// Package monitoring provides Prometheus metrics for the dialogue backend.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionsReaped  prometheus.Counter
	ExpiredHits     prometheus.Counter

	// Dialogue metrics
	Turns          *prometheus.CounterVec
	DialogueErrors *prometheus.CounterVec

	// Resolver metrics
	ResolverCalls    *prometheus.CounterVec
	ResolverDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_sessions_active",
				Help: "Number of live dialogue sessions",
			},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_sessions_created_total",
				Help: "Total number of dialogue sessions created",
			},
		),
		SessionsEnded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_sessions_ended_total",
				Help: "Total number of dialogue sessions removed",
			},
			[]string{"cause"}, // "client" or "reaper"
		),
		SessionsReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_sessions_reaped_total",
				Help: "Total number of idle sessions evicted by the reaper",
			},
		),
		ExpiredHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_sessions_expired_hits_total",
				Help: "Operations attempted against reaped session ids",
			},
		),

		Turns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_dialogue_turns_total",
				Help: "Total number of committed dialogue turns",
			},
			[]string{"kind"},
		),
		DialogueErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_dialogue_errors_total",
				Help: "Total number of dialogue operation errors",
			},
			[]string{"operation", "kind"},
		),

		ResolverCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_resolver_calls_total",
				Help: "Total number of resolver capability calls",
			},
			[]string{"method", "status"},
		),
		ResolverDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_resolver_duration_seconds",
				Help:    "Resolver call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordResolverCall records a resolver capability call
func (m *Metrics) RecordResolverCall(method, status string, duration time.Duration) {
	m.ResolverCalls.WithLabelValues(method, status).Inc()
	m.ResolverDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTurn records a committed dialogue turn
func (m *Metrics) RecordTurn(kind string) {
	m.Turns.WithLabelValues(kind).Inc()
}

// RecordDialogueError records a failed dialogue operation
func (m *Metrics) RecordDialogueError(operation, kind string) {
	m.DialogueErrors.WithLabelValues(operation, kind).Inc()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// IncSessionsCreated increments the sessions created counter
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncSessionsEnded increments the sessions ended counter for a cause
func (m *Metrics) IncSessionsEnded(cause string) {
	m.SessionsEnded.WithLabelValues(cause).Inc()
}

// IncSessionsReaped increments the reaped sessions counter
func (m *Metrics) IncSessionsReaped() {
	m.SessionsReaped.Inc()
	m.SessionsEnded.WithLabelValues("reaper").Inc()
}

// IncExpiredHits increments the expired-id hit counter
func (m *Metrics) IncExpiredHits() {
	m.ExpiredHits.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
