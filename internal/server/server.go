// Пакет server — HTTP-сервер Image Server с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/image-server/internal/api/middleware"
	"github.com/bigkaa/goartstore/image-server/internal/config"
)

// ServerInterface — набор endpoints Image Server.
type ServerInterface interface {
	// POST {prefix}/upload
	UploadImage(w http.ResponseWriter, r *http.Request)
	// GET {prefix}/*
	ServeImage(w http.ResponseWriter, r *http.Request)
	// DELETE {prefix}/*
	DeleteImage(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/info
	GetInfo(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/openapi.json
	GetOpenAPI(w http.ResponseWriter, r *http.Request)
	// POST /api/v1/maintenance/sweep
	Sweep(w http.ResponseWriter, r *http.Request)
	// GET /health/live
	HealthLive(w http.ResponseWriter, r *http.Request)
	// GET /health/ready
	HealthReady(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	GetMetrics(w http.ResponseWriter, r *http.Request)
}

// Server — HTTP-сервер Image Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// writeAuth защищает изменяющие операции; nil — без аутентификации.
func New(cfg *config.Config, logger *slog.Logger, handler ServerInterface, writeAuth func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg.RoutePrefix, logger, handler, writeAuth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Вынесен из New для тестов через httptest.
func NewRouter(routePrefix string, logger *slog.Logger, handler ServerInterface, writeAuth func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger.With(slog.String("component", "http"))))
	router.Use(middleware.MetricsMiddleware(routePrefix))

	// Публичные endpoints
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)
	router.Get("/api/v1/info", handler.GetInfo)
	router.Get("/api/v1/openapi.json", handler.GetOpenAPI)
	router.Get(routePrefix+"/*", handler.ServeImage)

	// Изменяющие операции
	router.Group(func(r chi.Router) {
		if writeAuth != nil {
			r.Use(writeAuth)
		}
		r.Post(routePrefix+"/upload", handler.UploadImage)
		r.Delete(routePrefix+"/*", handler.DeleteImage)
		r.Post("/api/v1/maintenance/sweep", handler.Sweep)
	})

	return router
}

// MetricsHandler — обработчик для /metrics, делегирующий в Prometheus.
type MetricsHandler struct {
	promHandler http.Handler
}

// NewMetricsHandler создаёт обработчик Prometheus метрик.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{
		promHandler: promhttp.Handler(),
	}
}

// GetMetrics реализует endpoint /metrics.
func (m *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m.promHandler.ServeHTTP(w, r)
}

// Run запускает сервер и ожидает отмены ctx (сигнал завершения).
// После отмены выполняется graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
