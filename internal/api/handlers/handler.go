// handler.go — APIHandler реализует server.ServerInterface,
// делегируя вызовы в отдельные handler'ы по доменам.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/image-server/internal/server"
)

// APIHandler — единая реализация ServerInterface, собирающая
// все доменные handlers в один объект.
type APIHandler struct {
	images      *ImagesHandler
	system      *SystemHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
	metrics     *server.MetricsHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	images *ImagesHandler,
	system *SystemHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
	metrics *server.MetricsHandler,
) *APIHandler {
	return &APIHandler{
		images:      images,
		system:      system,
		maintenance: maintenance,
		health:      health,
		metrics:     metrics,
	}
}

// --- Images ---

func (h *APIHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	h.images.Upload(w, r)
}

func (h *APIHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	h.images.Serve(w, r)
}

func (h *APIHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	h.images.Delete(w, r)
}

// --- System ---

func (h *APIHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	h.system.GetInfo(w, r)
}

func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	h.system.GetOpenAPI(w, r)
}

// --- Maintenance ---

func (h *APIHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	h.maintenance.Sweep(w, r)
}

// --- Health ---

func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// --- Metrics ---

func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.GetMetrics(w, r)
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ server.ServerInterface = (*APIHandler)(nil)
