package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/image-server/internal/config"
	"github.com/bigkaa/goartstore/image-server/internal/service"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Однократно удалить устаревшие записи кэша и выйти",
		Long: `Удаляет из IS_CACHE_DIR записи старше IS_CACHE_RETENTION и пустые каталоги.
Подходит для запуска из cron или Kubernetes CronJob. Итог печатается в stdout в JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)

			dir, err := cacheRoot(cfg, logger)
			if err != nil {
				return err
			}

			sweeper := service.NewRetentionSweeper(dir, cfg.CacheRetention, cfg.SweepInterval, nil, logger)
			result, skipped := sweeper.RunOnce()
			if skipped {
				logger.Warn("Очистку кэша выполняет другой процесс")
				return nil
			}

			logger.Info("Очистка кэша завершена",
				slog.Int("deleted", result.Deleted),
				slog.Int("errors", result.Errors),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("вывод результата: %w", err)
			}
			return nil
		},
	}
}
