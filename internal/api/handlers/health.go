// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/image-server/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// serviceName — имя сервиса в ответах health и info.
const serviceName = "image-server"

// IndexReadinessChecker — интерфейс для проверки готовности индекса кэша.
type IndexReadinessChecker interface {
	IsReady() bool
}

// DependencyHealth — состояние внешних зависимостей (dephealth).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// uploadDir — корень оригиналов
	uploadDir string
	// cacheDir — корень кэша производных
	cacheDir string
	// idx — индекс кэша для проверки готовности
	idx IndexReadinessChecker
	// deps — состояние зависимостей (nil, если мониторинг выключен)
	deps DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
// idx и deps могут быть nil.
func NewHealthHandler(uploadDir, cacheDir string, idx IndexReadinessChecker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		uploadDir: uploadDir,
		cacheDir:  cacheDir,
		idx:       idx,
		deps:      deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: запись в корень оригиналов и кэша, готовность индекса,
// состояние зависимостей. Недоступная зависимость даёт "degraded".
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	uploadsCheck := checkWritable(h.uploadDir, "Каталог оригиналов")
	cacheCheck := checkWritable(h.cacheDir, "Каталог кэша")
	for _, c := range []map[string]any{uploadsCheck, cacheCheck} {
		if c["status"] != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	indexCheck := map[string]any{"status": "ok"}
	if h.idx != nil && !h.idx.IsReady() {
		indexCheck = map[string]any{
			"status":  statusFail,
			"message": "Индекс кэша не построен",
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{
		"uploads": uploadsCheck,
		"cache":   cacheCheck,
		"index":   indexCheck,
	}

	if h.deps != nil {
		deps := h.deps.Health()
		depsStatus := "ok"
		for _, ok := range deps {
			if !ok {
				depsStatus = statusFail
			}
		}
		checks["dependencies"] = map[string]any{
			"status": depsStatus,
			"items":  deps,
		}
		if depsStatus != "ok" && overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, title string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": title + " недоступен для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
