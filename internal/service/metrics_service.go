package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and
// auth lifecycle events.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	rotationTotal   prometheus.Counter
	reuseTotal      prometheus.Counter
	codeIssued      *prometheus.CounterVec
	codeRedeemed    *prometheus.CounterVec
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

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Total login attempts by result",
	}, []string{"result"})

	rotationTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Total successful refresh token rotations",
	})

	reuseTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_reuse_detections_total",
		Help: "Total refresh token reuse detections",
	})

	codeIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_verification_codes_issued_total",
		Help: "Total verification codes issued by purpose",
	}, []string{"purpose"})

	codeRedeemed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_verification_codes_redeemed_total",
		Help: "Total verification code redemption attempts by purpose and result",
	}, []string{"purpose", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, rotationTotal, reuseTotal, codeIssued, codeRedeemed, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		rotationTotal:   rotationTotal,
		reuseTotal:      reuseTotal,
		codeIssued:      codeIssued,
		codeRedeemed:    codeRedeemed,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// RecordLogin counts a login attempt.
func (m *MetricsService) RecordLogin(success bool) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(resultLabel(success)).Inc()
}

// RecordRotation counts a successful refresh rotation.
func (m *MetricsService) RecordRotation() {
	if m == nil {
		return
	}
	m.rotationTotal.Inc()
}

// RecordReuseDetected counts a reuse-detection escalation.
func (m *MetricsService) RecordReuseDetected() {
	if m == nil {
		return
	}
	m.reuseTotal.Inc()
}

// RecordCodeIssued counts an issued verification code.
func (m *MetricsService) RecordCodeIssued(purpose string) {
	if m == nil {
		return
	}
	m.codeIssued.WithLabelValues(purpose).Inc()
}

// RecordCodeRedeemed counts a redemption attempt.
func (m *MetricsService) RecordCodeRedeemed(purpose string, success bool) {
	if m == nil {
		return
	}
	m.codeRedeemed.WithLabelValues(purpose, resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
