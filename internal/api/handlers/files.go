// files.go — HTTP handlers загрузки и чтения файлов:
// единичная и пакетная загрузка, статус фонового задания, листинг,
// карточка, обновление описания, скачивание и предпросмотр.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/repository"
	"github.com/bigkaa/filevault/internal/service"
)

// multipartMemoryLimit — объём multipart-формы, удерживаемый в памяти;
// остальное net/http спулит на диск сам.
const multipartMemoryLimit = 32 << 20

// FilesHandler — обработчик endpoints загрузки и чтения файлов.
type FilesHandler struct {
	ingest   *service.IngestService
	query    *service.QueryService
	download *service.DownloadService
	worker   *service.BatchWorker
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	ingest *service.IngestService,
	query *service.QueryService,
	download *service.DownloadService,
	worker *service.BatchWorker,
) *FilesHandler {
	return &FilesHandler{
		ingest:   ingest,
		query:    query,
		download: download,
		worker:   worker,
	}
}

// Upload обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), description (опционально).
// Дубликат содержимого — 409 с id существующей записи.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	rec, err := h.ingest.Upload(r.Context(), owner, service.UploadParams{
		Reader:       file,
		Filename:     header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		DeclaredSize: header.Size,
		Description:  r.FormValue("description"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec))
}

// UploadBulk обрабатывает POST /api/v1/files/bulk.
// Form flags: atomic (all-or-nothing вместо best-effort),
// async (фоновая обработка → 202 + job id; несовместим с atomic).
func (h *FilesHandler) UploadBulk(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		apierrors.ValidationError(w, "Поле 'files' обязательно: хотя бы один файл")
		return
	}

	atomic := parseBoolFlag(r.FormValue("atomic"))
	async := parseBoolFlag(r.FormValue("async"))
	if atomic && async {
		apierrors.ValidationError(w, "Флаги atomic и async несовместимы: фоновая обработка всегда best-effort")
		return
	}

	var files []service.BatchFile
	var opened []io.Closer
	defer func() {
		for _, c := range opened {
			_ = c.Close()
		}
	}()

	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения части %s: %s", header.Filename, err.Error()))
			return
		}
		opened = append(opened, f)
		files = append(files, service.BatchFile{
			Reader:       f,
			Filename:     header.Filename,
			MimeType:     header.Header.Get("Content-Type"),
			DeclaredSize: header.Size,
			Description:  r.FormValue("description"),
		})
	}

	if async {
		jobID := h.worker.Submit(owner, files)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": service.JobStatusRunning,
		})
		return
	}

	result, err := h.ingest.UploadBatch(r.Context(), owner, files, atomic)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, batchStatusCode(result.Status), toBatchResponse(result))
}

// batchStatusCode подбирает HTTP-статус по исходу батча.
func batchStatusCode(status string) int {
	switch status {
	case service.BatchStatusCreated:
		return http.StatusCreated
	case service.BatchStatusPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusConflict
	}
}

// BulkJobStatus обрабатывает GET /api/v1/files/bulk/{job_id}.
// Задания видны только их владельцу.
func (h *FilesHandler) BulkJobStatus(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")

	job, ok := h.worker.JobStatus(owner, jobID)
	if !ok {
		apierrors.NotFound(w, "Задание не найдено")
		return
	}

	resp := map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"submitted_at": job.SubmittedAt.Format(time.RFC3339),
	}
	if job.FinishedAt != nil {
		resp["finished_at"] = job.FinishedAt.Format(time.RFC3339)
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Result != nil {
		resp["result"] = toBatchResponse(job.Result)
	}
	writeJSON(w, http.StatusOK, resp)
}

// List обрабатывает GET /api/v1/files.
// Параметры: search, file_type (повторяемый), created_after,
// created_before, min_size, max_size, sort_by, sort_order, limit, offset.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	params, err := parseSearchParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	page, err := h.query.List(r.Context(), owner, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Detail обрабатывает GET /api/v1/files/{file_id}.
func (h *FilesHandler) Detail(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	fileID, ok := filePathID(w, r)
	if !ok {
		return
	}

	rec, err := h.query.Detail(r.Context(), owner, fileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// UpdateDescription обрабатывает PATCH /api/v1/files/{file_id}.
// Body: {"description": "..."}.
func (h *FilesHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	fileID, ok := filePathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: ожидается JSON")
		return
	}
	if body.Description == nil {
		apierrors.ValidationError(w, "Поле 'description' обязательно")
		return
	}

	rec, err := h.query.UpdateDescription(r.Context(), owner, fileID, *body.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// Download обрабатывает GET /api/v1/files/{file_id}/download.
// Range requests и ETag обрабатываются внутри сервиса.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	fileID, ok := filePathID(w, r)
	if !ok {
		return
	}

	if err := h.download.Serve(w, r, owner, fileID); err != nil {
		writeServiceError(w, err)
	}
}

// Preview обрабатывает GET /api/v1/files/{file_id}/preview.
// Изображения/PDF/видео отдаются потоком, текст — усечённым JSON,
// неподдерживаемые типы — 415.
func (h *FilesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	fileID, ok := filePathID(w, r)
	if !ok {
		return
	}

	result, err := h.download.Preview(r, owner, fileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if result.Reader != nil {
		defer result.Reader.Close()
		w.Header().Set("Content-Type", result.ContentType)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, result.Reader); err != nil {
			// Заголовки уже ушли — остаётся только залогировать на
			// уровне middleware через разорванное соединение
			return
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":   result.Record.ID,
		"file_type": result.Record.FileType,
		"content":   result.Text,
		"truncated": result.Truncated,
	})
}

// filePathID извлекает и валидирует UUID файла из пути.
func filePathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "file_id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор файла: ожидается UUID")
		return "", false
	}
	return id, true
}

// parseBoolFlag трактует форм-флаг как bool ("true", "1", "yes").
func parseBoolFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// parseSearchParams разбирает query-параметры листинга.
// Семантические проверки (min>max и т.п.) выполняет сервисный слой.
func parseSearchParams(r *http.Request) (repository.SearchParams, error) {
	q := r.URL.Query()
	var params repository.SearchParams

	if search := strings.TrimSpace(q.Get("search")); search != "" {
		params.Query = &search
	}
	for _, ft := range q["file_type"] {
		for _, part := range strings.Split(ft, ",") {
			if part = strings.TrimSpace(part); part != "" {
				params.FileTypes = append(params.FileTypes, strings.ToLower(part))
			}
		}
	}

	var err error
	if params.CreatedAfter, err = parseTimeParam(q.Get("created_after"), "created_after"); err != nil {
		return params, err
	}
	if params.CreatedBefore, err = parseTimeParam(q.Get("created_before"), "created_before"); err != nil {
		return params, err
	}
	if params.MinSize, err = parseInt64Param(q.Get("min_size"), "min_size"); err != nil {
		return params, err
	}
	if params.MaxSize, err = parseInt64Param(q.Get("max_size"), "max_size"); err != nil {
		return params, err
	}

	params.SortBy = q.Get("sort_by")
	params.SortOrder = q.Get("sort_order")

	if v := q.Get("limit"); v != "" {
		if params.Limit, err = strconv.Atoi(v); err != nil {
			return params, fmt.Errorf("параметр limit должен быть целым числом")
		}
	}
	if v := q.Get("offset"); v != "" {
		if params.Offset, err = strconv.Atoi(v); err != nil {
			return params, fmt.Errorf("параметр offset должен быть целым числом")
		}
	}
	// Курсор из next_cursor предыдущей страницы имеет приоритет над offset
	if v := q.Get("cursor"); v != "" {
		offset, err := service.DecodeCursor(v)
		if err != nil {
			return params, fmt.Errorf("параметр cursor: токен не распознан")
		}
		params.Offset = offset
	}

	return params, nil
}

// parseTimeParam принимает RFC3339 или дату YYYY-MM-DD.
func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("параметр %s: ожидается дата RFC3339 или YYYY-MM-DD", name)
}

func parseInt64Param(v, name string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("параметр %s должен быть целым числом", name)
	}
	return &n, nil
}
