// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Image Server мониторит:
//   - JWKS endpoint провайдера токенов (HTTP GET, critical), если задан IS_JWKS_URL
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/prometheus/client_golang/prometheus"
)

// jwksDependency — имя зависимости в метриках.
const jwksDependency = "jwks"

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения (IS_SERVICE_ID)
	ServiceID string
	// Group — имя группы в метриках (IS_DEPHEALTH_GROUP)
	Group string
	// JWKSUrl — URL JWKS endpoint (IS_JWKS_URL)
	JWKSUrl string
	// CheckInterval — интервал проверки (IS_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// TLSSkipVerify — пропуск проверки TLS-сертификата (IS_TLS_SKIP_VERIFY)
	TLSSkipVerify bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	httpOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.JWKSUrl),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	// Проверяется сам JWKS endpoint, а не корень хоста
	if parsed, err := url.Parse(cfg.JWKSUrl); err == nil && parsed.Path != "" {
		httpOpts = append(httpOpts, dephealth.WithHTTPHealthPath(parsed.Path))
	}
	if cfg.TLSSkipVerify {
		httpOpts = append(httpOpts, dephealth.WithHTTPTLSSkipVerify(true))
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP(jwksDependency, httpOpts...),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
