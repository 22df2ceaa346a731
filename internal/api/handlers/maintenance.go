// maintenance.go — HTTP handlers обслуживания коллекции: удаление,
// массовое удаление, отчёт о дубликатах, зачистка, статистика, типы.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/service"
)

// MaintenanceHandler — обработчик endpoints обслуживания коллекции.
type MaintenanceHandler struct {
	cleanup *service.CleanupService
	query   *service.QueryService
}

// NewMaintenanceHandler создаёт обработчик endpoints обслуживания.
func NewMaintenanceHandler(cleanup *service.CleanupService, query *service.QueryService) *MaintenanceHandler {
	return &MaintenanceHandler{
		cleanup: cleanup,
		query:   query,
	}
}

// Delete обрабатывает DELETE /api/v1/files/{file_id}.
func (h *MaintenanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	fileID, ok := filePathID(w, r)
	if !ok {
		return
	}

	if err := h.cleanup.Delete(r.Context(), owner, fileID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BulkDelete обрабатывает POST /api/v1/files/delete.
// Body: {"file_ids": [...], "confirm": true}. Без confirm — 409.
// Любой чужой или несуществующий id отклоняет весь запрос.
func (h *MaintenanceHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	var body struct {
		FileIDs []string `json:"file_ids"`
		Confirm bool     `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: ожидается JSON")
		return
	}

	result, err := h.cleanup.DeleteMany(r.Context(), owner, body.FileIDs, body.Confirm)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files_deleted":   result.FilesDeleted,
		"bytes_reclaimed": result.BytesReclaimed,
	})
}

// duplicateGroupResponse — JSON-представление группы дубликатов.
type duplicateGroupResponse struct {
	ContentHash string         `json:"content_hash"`
	Files       []fileResponse `json:"files"`
	WastedBytes int64          `json:"wasted_bytes"`
}

// Duplicates обрабатывает GET /api/v1/files/duplicates.
// Внутри группы первая запись — оригинал (самая ранняя).
func (h *MaintenanceHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	groups, err := h.cleanup.DuplicateReport(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]duplicateGroupResponse, 0, len(groups))
	var totalWasted int64
	for _, g := range groups {
		gr := duplicateGroupResponse{
			ContentHash: g.ContentHash,
			Files:       make([]fileResponse, 0, len(g.Records)),
			WastedBytes: g.WastedBytes(),
		}
		for _, rec := range g.Records {
			gr.Files = append(gr.Files, toFileResponse(rec))
		}
		totalWasted += gr.WastedBytes
		resp = append(resp, gr)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups":             resp,
		"total_wasted_bytes": totalWasted,
	})
}

// CleanupDuplicates обрабатывает POST /api/v1/files/duplicates/cleanup.
// В каждой группе сохраняется самая ранняя запись.
func (h *MaintenanceHandler) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	result, err := h.cleanup.CleanupDuplicates(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups_processed": result.GroupsProcessed,
		"files_deleted":    result.FilesDeleted,
		"bytes_reclaimed":  result.BytesReclaimed,
	})
}

// Stats обрабатывает GET /api/v1/files/stats.
func (h *MaintenanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	stats, err := h.query.Stats(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	byType := make([]map[string]any, 0, len(stats.ByType))
	for _, ts := range stats.ByType {
		byType = append(byType, map[string]any{
			"file_type": ts.FileType,
			"count":     ts.Count,
			"size":      ts.Size,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_files":    stats.TotalFiles,
		"total_size":     stats.TotalSize,
		"by_type":        byType,
		"recent_uploads": stats.RecentUploads,
	})
}

// Types обрабатывает GET /api/v1/files/types.
func (h *MaintenanceHandler) Types(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	types, err := h.query.Types(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if types == nil {
		types = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"file_types": types})
}
