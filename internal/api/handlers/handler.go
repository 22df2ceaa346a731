// handler.go — общие DTO и вспомогательные функции HTTP-слоя Filevault.
// Маппинг доменных ошибок сервисного слоя в стандартные ответы API
// сосредоточен здесь: handlers не разбирают ошибки самостоятельно.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/service"
)

// fileResponse — полное JSON-представление записи файла.
type fileResponse struct {
	ID             string     `json:"id"`
	OriginalName   string     `json:"original_name"`
	ContentHash    string     `json:"content_hash"`
	SizeBytes      int64      `json:"size_bytes"`
	FileType       string     `json:"file_type"`
	MimeType       string     `json:"mime_type"`
	Description    string     `json:"description"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ViewCount      int64      `json:"view_count"`
}

func toFileResponse(rec *model.FileRecord) fileResponse {
	return fileResponse{
		ID:             rec.ID,
		OriginalName:   rec.OriginalName,
		ContentHash:    rec.ContentHash,
		SizeBytes:      rec.SizeBytes,
		FileType:       rec.FileType,
		MimeType:       rec.MimeType,
		Description:    rec.Description,
		CreatedAt:      rec.CreatedAt,
		ModifiedAt:     rec.ModifiedAt,
		LastAccessedAt: rec.LastAccessedAt,
		ViewCount:      rec.ViewCount,
	}
}

// batchFailureResponse — отказ одного файла пакетной загрузки.
type batchFailureResponse struct {
	Filename       string `json:"filename"`
	Reason         string `json:"reason"`
	ExistingFileID string `json:"existing_file_id,omitempty"`
}

// batchResponse — итог пакетной загрузки.
type batchResponse struct {
	Status  string                 `json:"status"`
	Created []fileResponse         `json:"created"`
	Failed  []batchFailureResponse `json:"failed"`
}

func toBatchResponse(result *service.BatchResult) batchResponse {
	resp := batchResponse{
		Status:  result.Status,
		Created: make([]fileResponse, 0, len(result.Created)),
		Failed:  make([]batchFailureResponse, 0, len(result.Failed)),
	}
	for _, rec := range result.Created {
		resp.Created = append(resp.Created, toFileResponse(rec))
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, batchFailureResponse{
			Filename:       f.Filename,
			Reason:         f.Reason,
			ExistingFileID: f.ExistingFileID,
		})
	}
	return resp
}

// writeJSON сериализует ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError транслирует ошибку сервисного слоя в ответ API.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		if ve.Rule == "size" {
			apierrors.FileTooLarge(w, ve.Message)
			return
		}
		apierrors.ValidationError(w, ve.Message)
		return
	}

	if de, ok := service.AsDuplicate(err); ok {
		apierrors.DuplicateContent(w, de.Error(), de.ExistingID)
		return
	}

	var cerr *service.ConsistencyError
	if errors.As(err, &cerr) {
		// Запись без blob на диске: клиенту файл недоступен,
		// рассогласование уже залогировано сервисом
		apierrors.NotFound(w, "Файл недоступен")
		return
	}

	var pu *service.PreviewUnsupportedError
	if errors.As(err, &pu) {
		apierrors.UnsupportedPreview(w, pu.Error())
		return
	}

	var pl *service.PreviewTooLargeError
	if errors.As(err, &pl) {
		apierrors.PreviewTooLarge(w, pl.Error())
		return
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, service.ErrConfirmationRequired):
		apierrors.ConfirmationRequired(w, err.Error())
	default:
		apierrors.InternalError(w, "Внутренняя ошибка сервиса")
	}
}
