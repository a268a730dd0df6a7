package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/image-server/internal/config"
	"github.com/bigkaa/goartstore/image-server/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceID:         "image-server-test",
		RoutePrefix:       testPrefix,
		AllowedExtensions: []string{"jpg", "jpeg", "png"},
		MaxFileSize:       1024 * 1024,
		MaxDimension:      2000,
		MaxSourcePixels:   4_000_000,
		DefaultQuality:    85,
		CacheRetention:    time.Hour,
	}
}

func TestGetInfo(t *testing.T) {
	s := newTestStack(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var resp infoResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ServiceID != "image-server-test" || resp.Service != serviceName {
		t.Errorf("неожиданная идентификация: %+v", resp)
	}
	if resp.Cache.Root != s.cacheDir || resp.Uploads.Root != s.uploadDir {
		t.Errorf("неожиданные корни: %s, %s", resp.Uploads.Root, resp.Cache.Root)
	}
	if !resp.Cache.IndexReady || resp.Cache.RetentionSeconds != 3600 {
		t.Errorf("неожиданное состояние кэша: %+v", resp.Cache)
	}
	if resp.Uploads.Disk == nil || resp.Uploads.Disk.TotalBytes <= 0 {
		t.Errorf("ожидались сведения о диске: %+v", resp.Uploads.Disk)
	}
}

func TestGetOpenAPI(t *testing.T) {
	s := newTestStack(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.OpenAPI == "" {
		t.Error("ожидалось поле openapi")
	}
	if _, ok := doc.Paths[testPrefix+"/upload"]; !ok {
		t.Errorf("в документе нет %s/upload", testPrefix)
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler("", "", nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

type fakeReadiness struct{ ready bool }

func (f fakeReadiness) IsReady() bool { return f.ready }

type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

func TestHealthReady(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		cacheDir   string
		idx        IndexReadinessChecker
		deps       DependencyHealth
		wantCode   int
		wantStatus string
	}{
		{"всё в порядке", dir, fakeReadiness{true}, nil, http.StatusOK, "ok"},
		{"индекс не готов", dir, fakeReadiness{false}, nil, http.StatusServiceUnavailable, statusFail},
		{"кэш недоступен", filepath.Join(dir, "absent"), nil, nil, http.StatusServiceUnavailable, statusFail},
		{"зависимость недоступна", dir, nil, fakeDeps{"jwks": false}, http.StatusOK, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(dir, tt.cacheDir, tt.idx, tt.deps)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("ожидался статус %d, получен %d", tt.wantCode, rec.Code)
			}
			var resp map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("ожидался status=%s, получен %v", tt.wantStatus, resp["status"])
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, ".health_check")); !os.IsNotExist(err) {
		t.Error("пробный файл должен удаляться")
	}
}

type fakeSweeper struct {
	busy bool
}

func (f *fakeSweeper) RunOnce() (*service.SweepResult, bool) {
	if f.busy {
		return nil, true
	}
	return &service.SweepResult{Deleted: 3}, false
}

func TestSweep(t *testing.T) {
	sw := &fakeSweeper{}
	h := NewMaintenanceHandler(sw, testLogger())

	rec := httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/sweep", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var result service.SweepResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 3 {
		t.Errorf("ожидалось deleted=3, получено %d", result.Deleted)
	}

	sw.busy = true
	rec = httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/sweep", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("ожидался статус 409, получен %d", rec.Code)
	}
}
