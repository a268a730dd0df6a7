// Пакет errors — конструкторы стандартных ошибок Image Server.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // совпадает с именем пакета stdlib, импортируется как apierrors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

// Коды ошибок.
const (
	CodeValidationError         = "VALIDATION_ERROR"
	CodeNotFound                = "NOT_FOUND"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeFileTooLarge            = "FILE_TOO_LARGE"
	CodeUnsupportedMediaType    = "UNSUPPORTED_MEDIA_TYPE"
	CodeUnsupportedSourceFormat = "UNSUPPORTED_SOURCE_FORMAT"
	CodeSweepInProgress         = "SWEEP_IN_PROGRESS"
	CodeServiceBusy             = "SERVICE_BUSY"
	CodeInternalError           = "INTERNAL_ERROR"
)

// notFoundMessage — единое сообщение для отсутствующих и отклонённых путей:
// клиент не различает «нет файла» и «путь запрещён».
const notFoundMessage = "Изображение не найдено"

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Classify сопоставляет доменную ошибку HTTP-статусу и коду.
func Classify(err error) (int, string) {
	switch {
	case stderrors.Is(err, model.ErrNotFound),
		stderrors.Is(err, model.ErrInvalidPath),
		stderrors.Is(err, model.ErrForbiddenPath):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, model.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case stderrors.Is(err, model.ErrEmptyPayload),
		stderrors.Is(err, model.ErrInvalidParameter):
		return http.StatusBadRequest, CodeValidationError
	case stderrors.Is(err, model.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, CodeUnsupportedMediaType
	case stderrors.Is(err, model.ErrUnsupportedSourceFormat):
		return http.StatusUnsupportedMediaType, CodeUnsupportedSourceFormat
	case stderrors.Is(err, model.ErrBusy),
		stderrors.Is(err, context.Canceled),
		stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeServiceBusy
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// FromDomain записывает ответ для доменной ошибки. Для 404 тело
// одинаково при любой причине; для 500 детали не раскрываются.
func FromDomain(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	switch status {
	case http.StatusNotFound:
		WriteError(w, status, code, notFoundMessage)
	case http.StatusInternalServerError:
		WriteError(w, status, code, "Внутренняя ошибка сервера")
	default:
		WriteError(w, status, code, err.Error())
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, CodeNotFound, notFoundMessage)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// SweepInProgress — 409 очистка уже выполняется.
func SweepInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeSweepInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
