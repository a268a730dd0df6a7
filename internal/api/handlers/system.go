// system.go — обработчики GET /api/v1/info и GET /api/v1/openapi.json.
// Публичный endpoint (без аутентификации) для мониторинга.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/image-server/internal/api/errors"
	"github.com/bigkaa/goartstore/image-server/internal/api/openapi"
	"github.com/bigkaa/goartstore/image-server/internal/config"
	"github.com/bigkaa/goartstore/image-server/internal/storage/index"
)

// CacheStatsProvider — статистика индекса кэша.
type CacheStatsProvider interface {
	IsReady() bool
	Stats() index.Stats
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	uploadDir string
	cacheDir  string
	idx       CacheStatsProvider
	// diskUsage подменяется в тестах
	diskUsage func(path string) (DiskUsage, error)
}

// NewSystemHandler создаёт обработчик системных endpoints.
// uploadDir и cacheDir — фактические корни после проверки на запись.
func NewSystemHandler(cfg *config.Config, uploadDir, cacheDir string, idx CacheStatsProvider) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		uploadDir: uploadDir,
		cacheDir:  cacheDir,
		idx:       idx,
		diskUsage: getDiskUsage,
	}
}

// storeInfo — сведения о корне хранилища.
type storeInfo struct {
	Root string     `json:"root"`
	Disk *DiskUsage `json:"disk,omitempty"`
}

// limitsInfo — действующие ограничения.
type limitsInfo struct {
	MaxFileSize       int64    `json:"max_file_size"`
	MaxDimension      int      `json:"max_dimension"`
	MaxSourcePixels   int64    `json:"max_source_pixels"`
	DefaultQuality    int      `json:"default_quality"`
	AllowedExtensions []string `json:"allowed_extensions"`
}

// cacheInfo — состояние кэша производных.
type cacheInfo struct {
	storeInfo
	RetentionSeconds int64       `json:"retention_seconds"`
	IndexReady       bool        `json:"index_ready"`
	Index            index.Stats `json:"index"`
}

// infoResponse — ответ GET /api/v1/info.
type infoResponse struct {
	ServiceID   string     `json:"service_id"`
	Service     string     `json:"service"`
	Version     string     `json:"version"`
	RoutePrefix string     `json:"route_prefix"`
	Uploads     storeInfo  `json:"uploads"`
	Cache       cacheInfo  `json:"cache"`
	Limits      limitsInfo `json:"limits"`
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		ServiceID:   h.cfg.ServiceID,
		Service:     serviceName,
		Version:     config.Version,
		RoutePrefix: h.cfg.RoutePrefix,
		Uploads:     h.store(h.uploadDir),
		Cache: cacheInfo{
			storeInfo:        h.store(h.cacheDir),
			RetentionSeconds: int64(h.cfg.CacheRetention.Seconds()),
		},
		Limits: limitsInfo{
			MaxFileSize:       h.cfg.MaxFileSize,
			MaxDimension:      h.cfg.MaxDimension,
			MaxSourcePixels:   h.cfg.MaxSourcePixels,
			DefaultQuality:    h.cfg.DefaultQuality,
			AllowedExtensions: h.cfg.AllowedExtensions,
		},
	}
	if h.idx != nil {
		resp.Cache.IndexReady = h.idx.IsReady()
		resp.Cache.Index = h.idx.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetOpenAPI обрабатывает GET /api/v1/openapi.json.
func (h *SystemHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := openapi.Document(h.cfg.RoutePrefix)
	if err != nil {
		apierrors.InternalError(w, "OpenAPI документ недоступен")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}

// store собирает сведения о корне; ошибка statfs не роняет endpoint.
func (h *SystemHandler) store(root string) storeInfo {
	info := storeInfo{Root: root}
	if usage, err := h.diskUsage(root); err == nil {
		info.Disk = &usage
	}
	return info
}
