// Точка входа Image Server — сервиса загрузки и выдачи изображений
// с дисковым кэшем производных.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/image-server/internal/config"
	"github.com/bigkaa/goartstore/image-server/internal/storage/pathguard"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "image-server: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serveCmd := newServeCmd()

	cmd := &cobra.Command{
		Use:   "image-server",
		Short: "Сервис загрузки и выдачи изображений",
		Long: `Image Server принимает оригиналы изображений, отдаёт их как есть или
в виде производных (масштаб, кадрирование, формат) и кэширует производные на диске.
Конфигурация задаётся переменными окружения IS_*.`,
		Version:      config.Version,
		SilenceUsage: true,
		// Без подкоманды запускается сервер
		RunE: serveCmd.RunE,
	}
	cmd.AddCommand(
		serveCmd,
		newSweepCmd(),
	)
	return cmd
}

// loadConfig загружает конфигурацию из переменных окружения.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, nil
}

// cacheRoot возвращает корень кэша так же, как его видит serve: с учётом
// запасного каталога, если IS_CACHE_DIR недоступен для записи.
func cacheRoot(cfg *config.Config, logger *slog.Logger) (string, error) {
	dir, err := pathguard.EnsureRoot(cfg.CacheDir, "cache", logger)
	if err != nil {
		return "", fmt.Errorf("каталог кэша: %w", err)
	}
	return dir, nil
}
