package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the token lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	tokensIssued    prometheus.Counter
	tokensRotated   prometheus.Counter
	tokensRevoked   *prometheus.CounterVec
	tokensPurged    prometheus.Counter
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
		Help: "Login attempts by outcome",
	}, []string{"result"})

	tokensIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_issued_total",
		Help: "Refresh tokens issued",
	})

	tokensRotated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_rotated_total",
		Help: "Refresh tokens rotated",
	})

	tokensRevoked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_revoked_total",
		Help: "Refresh tokens revoked by reason",
	}, []string{"reason"})

	tokensPurged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_purged_total",
		Help: "Dead refresh tokens removed by the purge job",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, tokensIssued, tokensRotated, tokensRevoked, tokensPurged, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		tokensIssued:    tokensIssued,
		tokensRotated:   tokensRotated,
		tokensRevoked:   tokensRevoked,
		tokensPurged:    tokensPurged,
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveLogin counts a login attempt by outcome.
func (m *MetricsService) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(result).Inc()
}

// ObserveTokenIssued counts a freshly minted refresh token.
func (m *MetricsService) ObserveTokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// ObserveTokenRotated counts a successful rotation.
func (m *MetricsService) ObserveTokenRotated() {
	if m == nil {
		return
	}
	m.tokensRotated.Inc()
}

// ObserveTokensRevoked counts revocations by reason.
func (m *MetricsService) ObserveTokensRevoked(reason string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.tokensRevoked.WithLabelValues(reason).Add(float64(count))
}

// ObserveTokensPurged counts rows removed by the purge job.
func (m *MetricsService) ObserveTokensPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.tokensPurged.Add(float64(count))
}
