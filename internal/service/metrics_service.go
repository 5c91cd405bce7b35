package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

// Mark outcomes used as metric labels.
const (
	markOutcomeRecorded    = "recorded"
	markOutcomeTooEarly    = "too_early"
	markOutcomeTooLate     = "too_late"
	markOutcomeInactive    = "window_inactive"
	markOutcomeBreak       = "is_break"
	markOutcomeDuplicate   = "duplicate"
	markOutcomeNotEnrolled = "not_enrolled"
	markOutcomeError       = "error"
)

// MetricsService encapsulates Prometheus instrumentation for the API and attendance engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	marks           *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	otpRequests     *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	marks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marks_total",
		Help: "Attendance mark attempts by window kind and outcome",
	}, []string{"kind", "outcome"})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sessions_total",
		Help: "Session lifecycle transitions",
	}, []string{"transition"})

	otpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_challenges_total",
		Help: "One-time password events by stage and outcome",
	}, []string{"stage", "outcome"})

	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Realtime events by type and whether they were queued",
	}, []string{"type", "queued"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheLookups, marks, sessions, otpRequests, broadcasts, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheLookups:    cacheLookups,
		marks:           marks,
		sessions:        sessions,
		otpRequests:     otpRequests,
		broadcasts:      broadcasts,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGauge exposes fn as a gauge, e.g. the websocket subscriber count.
func (m *MetricsService) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordMark counts an attendance attempt.
func (m *MetricsService) RecordMark(kind models.WindowKind, outcome string) {
	if m == nil {
		return
	}
	m.marks.WithLabelValues(string(kind), outcome).Inc()
}

// RecordSession counts an open or close transition.
func (m *MetricsService) RecordSession(transition string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transition).Inc()
}

// RecordOTP counts a one-time password request or verification outcome.
func (m *MetricsService) RecordOTP(stage, outcome string) {
	if m == nil {
		return
	}
	m.otpRequests.WithLabelValues(stage, outcome).Inc()
}

// RecordBroadcast counts a published realtime event.
func (m *MetricsService) RecordBroadcast(eventType string, queued bool) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(eventType, fmt.Sprintf("%t", queued)).Inc()
}
