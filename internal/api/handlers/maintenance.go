// maintenance.go — обработчик POST /api/v1/maintenance/sweep.
// Делегирует очистку кэша в RetentionSweeper.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/image-server/internal/api/errors"
	"github.com/bigkaa/goartstore/image-server/internal/service"
)

// SweepRunner — интерфейс для запуска очистки кэша.
// Позволяет тестировать handler без полного RetentionSweeper.
type SweepRunner interface {
	// RunOnce выполняет один цикл очистки.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce() (*service.SweepResult, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	sweeper SweepRunner
	logger  *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(sweeper SweepRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper: sweeper,
		logger:  logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Sweep обрабатывает POST /api/v1/maintenance/sweep.
// Запускает синхронную очистку и возвращает результат.
// Если очистка уже выполняется — 409 SWEEP_IN_PROGRESS.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Ручной запуск очистки кэша", slog.String("subject", subjectOf(r)))

	result, skipped := h.sweeper.RunOnce()
	if skipped {
		apierrors.SweepInProgress(w, "Очистка кэша уже выполняется")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
