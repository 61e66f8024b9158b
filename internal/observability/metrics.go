// Package observability wires the prometheus metrics exposed on /metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics manages the prometheus registry and the instruments meetingd
// records into.
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	uptime        prometheus.GaugeFunc
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	agentsRunning prometheus.Gauge
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all instruments.
func NewMetrics(logger *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()
	startTime := time.Now()

	m := &Metrics{
		logger:   logger,
		registry: registry,
		uptime: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "meetingd_uptime_seconds",
			Help: "Seconds since the parent process started.",
		}, func() float64 { return time.Since(startTime).Seconds() }),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_http_requests_total",
			Help: "HTTP requests by method, path pattern and status code.",
		}, []string{"method", "path", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetingd_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		agentsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetingd_agents_running",
			Help: "Number of agent processes currently tracked as running.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_tool_calls_total",
			Help: "Tool calls by agent, tool and outcome (ok, error, timeout).",
		}, []string{"agent", "tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetingd_tool_call_duration_seconds",
			Help:    "Tool call latency by agent and tool.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent", "tool"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uptime,
		m.httpRequests,
		m.httpDuration,
		m.agentsRunning,
		m.toolCalls,
		m.toolDuration,
	)

	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordToolCall implements agent.MetricsRecorder.
func (m *Metrics) RecordToolCall(agentName, tool, status string, duration time.Duration) {
	m.toolCalls.WithLabelValues(agentName, tool, status).Inc()
	m.toolDuration.WithLabelValues(agentName, tool).Observe(duration.Seconds())
}

// SetAgentsRunning implements agent.MetricsRecorder.
func (m *Metrics) SetAgentsRunning(n int) {
	m.agentsRunning.Set(float64(n))
}

// HTTPMiddleware instruments requests with count and latency.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			m.httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.code)).Inc()
			m.httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}
