// Пакет errors — конструкторы стандартных ошибок API Filevault.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib осознан

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeDuplicateContent     = "DUPLICATE_CONTENT"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeUnsupportedPreview   = "UNSUPPORTED_PREVIEW"
	CodePreviewTooLarge      = "PREVIEW_TOO_LARGE"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeStorageFailure       = "STORAGE_FAILURE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки. ExistingFileID заполняется только
// для DUPLICATE_CONTENT — ссылка на уже существующую запись.
type errorDetail struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	ExistingFileID string `json:"existing_file_id,omitempty"`
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

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// DuplicateContent — 409 содержимое уже загружено.
// Дубликат — не сбой, а структурный исход: в ответе id существующей записи.
func DuplicateContent(w http.ResponseWriter, message, existingFileID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:           CodeDuplicateContent,
			Message:        message,
			ExistingFileID: existingFileID,
		},
	})
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// UnsupportedPreview — 415 тип файла не поддерживает предпросмотр.
func UnsupportedPreview(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedPreview, message)
}

// PreviewTooLarge — 413 файл слишком большой для предпросмотра.
func PreviewTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePreviewTooLarge, message)
}

// ConfirmationRequired — 409 массовое удаление требует подтверждения.
func ConfirmationRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConfirmationRequired, message)
}

// StorageFailure — 500 ошибка дисковой подсистемы.
func StorageFailure(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeStorageFailure, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
