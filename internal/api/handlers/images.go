// images.go — HTTP handlers изображений: загрузка, выдача, удаление.
// Путь изображения передаётся wildcard-сегментом chi после префикса маршрутов.
package handlers

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 используется только как ETag
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/image-server/internal/api/errors"
	"github.com/bigkaa/goartstore/image-server/internal/api/middleware"
	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
	"github.com/bigkaa/goartstore/image-server/internal/service"
)

// multipartOverhead — запас на заголовки multipart сверх лимита файла.
const multipartOverhead = 1 << 20

// multipartMemory — объём multipart, буферизуемый в памяти.
const multipartMemory = 8 << 20

// ImageEngine — операции движка изображений, нужные handler'ам.
type ImageEngine interface {
	Upload(ctx context.Context, p service.UploadParams) (string, error)
	Serve(ctx context.Context, relPath string, spec *model.TransformSpec) (*service.ServeResult, error)
	Delete(ctx context.Context, relPath string) error
}

// TransformParams — query-параметры выдачи изображения.
type TransformParams struct {
	Width   *int    `form:"w,omitempty" json:"w,omitempty"`
	Height  *int    `form:"h,omitempty" json:"h,omitempty"`
	Crop    *bool   `form:"crop,omitempty" json:"crop,omitempty"`
	Quality *int    `form:"q,omitempty" json:"q,omitempty"`
	Format  *string `form:"fmt,omitempty" json:"fmt,omitempty"`
	Upscale *bool   `form:"upscale,omitempty" json:"upscale,omitempty"`
}

// ImagesHandler — обработчик endpoints изображений.
type ImagesHandler struct {
	images         ImageEngine
	routePrefix    string
	maxFileSize    int64
	defaultQuality int
	cacheControl   string
	logger         *slog.Logger
}

// NewImagesHandler создаёт обработчик изображений.
// maxAge — срок, на который клиентам разрешено кэшировать ответы.
func NewImagesHandler(
	images ImageEngine,
	routePrefix string,
	maxFileSize int64,
	defaultQuality int,
	maxAge time.Duration,
	logger *slog.Logger,
) *ImagesHandler {
	return &ImagesHandler{
		images:         images,
		routePrefix:    routePrefix,
		maxFileSize:    maxFileSize,
		defaultQuality: defaultQuality,
		cacheControl:   fmt.Sprintf("public, max-age=%d, immutable", int64(maxAge.Seconds())),
		logger:         logger.With(slog.String("component", "images_handler")),
	}
}

// uploadResponse — ответ на успешную загрузку.
type uploadResponse struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// Upload обрабатывает POST {prefix}/upload.
// Multipart form: file (обязательно), folder (опционально).
func (h *ImagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает лимит %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	rel, err := h.images.Upload(r.Context(), service.UploadParams{
		Reader:   file,
		Filename: header.Filename,
		Size:     header.Size,
		Folder:   r.FormValue("folder"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Изображение загружено",
		slog.String("path", rel),
		slog.String("filename", header.Filename),
		slog.String("subject", subjectOf(r)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(uploadResponse{
		URL:  h.routePrefix + "/" + rel,
		Path: rel,
	})
}

// Serve обрабатывает GET {prefix}/*.
// Без w, h, q и fmt отдаётся оригинал. Поддерживает If-None-Match и Range.
func (h *ImagesHandler) Serve(w http.ResponseWriter, r *http.Request) {
	rel, ok := imagePath(r)
	if !ok {
		apierrors.NotFound(w)
		return
	}

	params, err := bindTransformParams(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	spec, err := h.buildSpec(params)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.images.Serve(r.Context(), rel, spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sum := sha1.Sum(res.Data) //nolint:gosec // ETag
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	w.Header().Set("Cache-Control", h.cacheControl)
	w.Header().Set("X-Image-Source", res.Source)

	http.ServeContent(w, r, path.Base(rel), time.Time{}, bytes.NewReader(res.Data))
}

// Delete обрабатывает DELETE {prefix}/*.
// Удаляет оригинал и все его производные.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rel, ok := imagePath(r)
	if !ok {
		apierrors.NotFound(w)
		return
	}

	if err := h.images.Delete(r.Context(), rel); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Изображение удалено",
		slog.String("path", rel),
		slog.String("subject", subjectOf(r)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// anonymousSubject — subject изменяющих запросов без аутентификации.
const anonymousSubject = "anonymous"

// subjectOf возвращает sub владельца токена для аудита изменяющих операций.
func subjectOf(r *http.Request) string {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.Subject
	}
	return anonymousSubject
}

// imagePath извлекает относительный путь изображения из wildcard-сегмента.
// chi отдаёт сегмент в экранированном виде, если запрос пришёл с RawPath.
func imagePath(r *http.Request) (string, bool) {
	rel, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		return "", false
	}
	return rel, true
}

// bindTransformParams разбирает query-параметры трансформации.
func bindTransformParams(query url.Values) (TransformParams, error) {
	var params TransformParams

	if err := runtime.BindQueryParameter("form", true, false, "w", query, &params.Width); err != nil {
		return params, fmt.Errorf("некорректный параметр w: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "h", query, &params.Height); err != nil {
		return params, fmt.Errorf("некорректный параметр h: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "crop", query, &params.Crop); err != nil {
		return params, fmt.Errorf("некорректный параметр crop: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "q", query, &params.Quality); err != nil {
		return params, fmt.Errorf("некорректный параметр q: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "fmt", query, &params.Format); err != nil {
		return params, fmt.Errorf("некорректный параметр fmt: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "upscale", query, &params.Upscale); err != nil {
		return params, fmt.Errorf("некорректный параметр upscale: %w", err)
	}

	return params, nil
}

// buildSpec строит TransformSpec из параметров. Возвращает nil, если
// трансформация не запрошена.
func (h *ImagesHandler) buildSpec(p TransformParams) (*model.TransformSpec, error) {
	if p.Width == nil && p.Height == nil && p.Quality == nil && p.Format == nil {
		return nil, nil
	}

	spec := &model.TransformSpec{
		Quality: h.defaultQuality,
		Format:  model.FormatJPEG,
	}
	if p.Width != nil {
		if *p.Width <= 0 {
			return nil, errors.New("параметр w должен быть положительным")
		}
		spec.Width = *p.Width
	}
	if p.Height != nil {
		if *p.Height <= 0 {
			return nil, errors.New("параметр h должен быть положительным")
		}
		spec.Height = *p.Height
	}
	if p.Quality != nil {
		spec.Quality = *p.Quality
	}
	if p.Format != nil {
		spec.Format = model.Format(*p.Format)
	}
	if p.Crop != nil {
		spec.Crop = *p.Crop
	}
	if p.Upscale != nil {
		spec.Upscale = *p.Upscale
	}
	return spec, nil
}

// writeError пишет ответ для доменной ошибки и логирует внутреннюю причину.
func (h *ImagesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := apierrors.Classify(err)

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.LogAttrs(r.Context(), level, "Запрос изображения отклонён",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)

	apierrors.FromDomain(w, err)
}
