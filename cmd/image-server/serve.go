package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/image-server/internal/api/handlers"
	"github.com/bigkaa/goartstore/image-server/internal/api/middleware"
	"github.com/bigkaa/goartstore/image-server/internal/config"
	"github.com/bigkaa/goartstore/image-server/internal/imaging"
	"github.com/bigkaa/goartstore/image-server/internal/server"
	"github.com/bigkaa/goartstore/image-server/internal/service"
	"github.com/bigkaa/goartstore/image-server/internal/storage/derivstore"
	"github.com/bigkaa/goartstore/image-server/internal/storage/filestore"
	"github.com/bigkaa/goartstore/image-server/internal/storage/index"
	"github.com/bigkaa/goartstore/image-server/internal/storage/pathguard"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер с фоновой очисткой кэша",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()

	logger := config.SetupLogger(cfg)
	logger.Info("Image Server запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("route_prefix", cfg.RoutePrefix),
	)

	// --- Инициализация компонентов ---

	// 1. Корни хранилищ (с запасным каталогом во временной директории)
	uploadDir, err := pathguard.EnsureRoot(cfg.UploadDir, "uploads", logger)
	if err != nil {
		return fmt.Errorf("каталог оригиналов: %w", err)
	}
	cacheDir, err := cacheRoot(cfg, logger)
	if err != nil {
		return err
	}

	// 2. Хранилища оригиналов и производных
	originals, err := filestore.New(uploadDir, cfg.MaxFileSize, cfg.AllowedExtensions)
	if err != nil {
		return fmt.Errorf("инициализация хранилища оригиналов: %w", err)
	}
	cache, err := derivstore.New(cacheDir)
	if err != nil {
		return fmt.Errorf("инициализация кэша: %w", err)
	}

	// 3. In-memory индекс кэша
	idx := index.New(logger)
	if err := idx.BuildFromDir(cacheDir, derivstore.IsInternal); err != nil {
		// Индекс не авторитетен: сервер работает, readiness покажет проблему
		logger.Warn("Ошибка построения индекса кэша", slog.String("error", err.Error()))
	}

	// 4. Сервисы
	pool := service.NewPool(cfg.WorkerPoolSize)
	mem := service.NewMemCache(cfg.MemoryCacheEntries, cfg.MemoryCacheTTL)
	imageSvc := service.NewImageService(originals, cache, mem, idx, imaging.New(), pool,
		cfg.MaxDimension, cfg.MaxSourcePixels, logger)

	// 5. Фоновые процессы
	sweeper := service.NewRetentionSweeper(cacheDir, cfg.CacheRetention, cfg.SweepInterval, idx, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 5.1 topologymetrics — мониторинг JWKS, только при включённой аутентификации
	var deps handlers.DependencyHealth
	if cfg.AuthEnabled() {
		dephealthSvc, dhErr := service.NewDephealthService(service.DephealthConfig{
			ServiceID:     cfg.ServiceID,
			Group:         cfg.DephealthGroup,
			JWKSUrl:       cfg.JWKSUrl,
			CheckInterval: cfg.DephealthCheckInterval,
			TLSSkipVerify: cfg.TLSSkipVerify,
		}, logger)
		switch {
		case dhErr != nil:
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dhErr.Error()),
			)
		default:
			if startErr := dephealthSvc.Start(ctx); startErr != nil {
				logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			} else {
				deps = dephealthSvc
				defer dephealthSvc.Stop()
			}
		}
	}

	// 6. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewImagesHandler(imageSvc, cfg.RoutePrefix, cfg.MaxFileSize, cfg.DefaultQuality, cfg.CacheRetention, logger),
		handlers.NewSystemHandler(cfg, uploadDir, cacheDir, idx),
		handlers.NewMaintenanceHandler(sweeper, logger),
		handlers.NewHealthHandler(uploadDir, cacheDir, idx, deps),
		server.NewMetricsHandler(),
	)

	// 7. JWT middleware для изменяющих операций
	writeAuth, err := buildWriteAuth(cfg, logger)
	if err != nil {
		return err
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, writeAuth)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// buildWriteAuth собирает JWT + scope middleware. Без IS_JWKS_URL
// изменяющие операции открыты (режим разработки).
func buildWriteAuth(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.AuthEnabled() {
		logger.Warn("IS_JWKS_URL не задан, загрузка и удаление доступны без аутентификации")
		return nil, nil
	}

	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		TLSSkipVerify:   cfg.TLSSkipVerify,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
		Issuer:          cfg.JWTIssuer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация JWT: %w", err)
	}
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))

	return jwtAuth.Require(middleware.ScopeImagesWrite), nil
}
