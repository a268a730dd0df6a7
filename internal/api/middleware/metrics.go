// metrics.go — Prometheus HTTP метрики Image Server.
// Регистрирует метрики: is_http_requests_total, is_http_request_duration_seconds.
// Метрики кэша и генерации регистрируются в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "is_http_requests_total",
			Help: "Общее количество HTTP-запросов к Image Server",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "is_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Image Server в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// routePrefix — префикс маршрутов изображений (например, "/images").
func MetricsMiddleware(routePrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(routePrefix, r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// normalizePath сводит пути изображений к шаблонам, чтобы имена файлов
// не попадали в лейблы.
// /images/avatars/1f0c....jpg → /images/*
func normalizePath(routePrefix, path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/info", "/api/v1/openapi.json", "/api/v1/maintenance/sweep":
		return path
	}

	if path == routePrefix+"/upload" {
		return path
	}
	if strings.HasPrefix(path, routePrefix+"/") {
		return routePrefix + "/*"
	}
	return "other"
}
