// download.go — отдача содержимого файлов: скачивание и предпросмотр.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
)

// previewableTypes — типы, отдаваемые в предпросмотр как есть.
var previewableTypes = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"pdf": true,
	"mp4": true, "avi": true, "mov": true,
}

// textTypes — типы, отдаваемые в предпросмотр усечённым текстом.
var textTypes = map[string]bool{
	"txt": true, "csv": true,
}

// DownloadService — отдача blob'ов клиенту.
type DownloadService struct {
	repo             repository.FileRepository
	blobs            *blobstore.BlobStore
	maxPreviewSize   int64
	previewTextChars int
	logger           *slog.Logger
}

// NewDownloadService создаёт сервис отдачи файлов.
func NewDownloadService(
	repo repository.FileRepository,
	blobs *blobstore.BlobStore,
	maxPreviewSize int64,
	previewTextChars int,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		repo:             repo,
		blobs:            blobs,
		maxPreviewSize:   maxPreviewSize,
		previewTextChars: previewTextChars,
		logger:           logger.With(slog.String("component", "download_service")),
	}
}

// Serve отдаёт файл клиенту через http.ServeContent.
// Поддерживает Range requests (206 Partial Content) и ETag по хэшу
// содержимого. Запись без blob на диске — ConsistencyError: клиенту
// отдаётся not-found, рассогласование логируется.
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, owner, fileID string) error {
	rec, err := s.repo.GetByID(r.Context(), owner, fileID)
	if err != nil {
		return err
	}

	file, err := s.blobs.Open(rec.StoredPath)
	if err != nil {
		cerr := &ConsistencyError{FileID: rec.ID, StoredPath: rec.StoredPath, Cause: err}
		s.logger.Error("Запись метаданных без blob на диске",
			slog.String("file_id", rec.ID),
			slog.String("stored_path", rec.StoredPath),
			slog.String("error", err.Error()),
		)
		return cerr
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("ошибка stat blob: %w", err)
	}

	if err := s.repo.Touch(r.Context(), owner, fileID); err != nil {
		s.logger.Warn("Не удалось обновить счётчик просмотров при скачивании",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalName))
	w.Header().Set("ETag", fmt.Sprintf("%q", rec.ContentHash))
	w.Header().Set("Accept-Ranges", "bytes")

	// http.ServeContent обрабатывает Range, If-None-Match,
	// If-Modified-Since и Content-Length
	http.ServeContent(w, r, rec.OriginalName, stat.ModTime(), file)

	s.logger.Debug("Файл скачан",
		slog.String("file_id", fileID),
		slog.String("filename", rec.OriginalName),
		slog.Int64("size", rec.SizeBytes),
	)
	return nil
}

// PreviewResult — результат предпросмотра.
type PreviewResult struct {
	// Record — метаданные файла
	Record *model.FileRecord
	// ContentType — тип содержимого ответа
	ContentType string
	// Reader — поток содержимого (для passthrough-типов);
	// вызывающий код обязан закрыть
	Reader io.ReadCloser
	// Text — усечённый текст (для текстовых типов, Reader == nil)
	Text string
	// Truncated — текст был усечён до бюджета символов
	Truncated bool
}

// PreviewUnsupportedError — тип файла не поддерживает предпросмотр.
type PreviewUnsupportedError struct {
	FileType string
}

func (e *PreviewUnsupportedError) Error() string {
	return fmt.Sprintf("тип файла %q не поддерживает предпросмотр", e.FileType)
}

// PreviewTooLargeError — файл превышает лимит предпросмотра.
type PreviewTooLargeError struct {
	SizeBytes int64
	Limit     int64
}

func (e *PreviewTooLargeError) Error() string {
	return fmt.Sprintf("файл %d байт превышает лимит предпросмотра %d байт", e.SizeBytes, e.Limit)
}

// Preview возвращает ограниченное по типу и размеру представление
// файла: изображения/PDF/видео проходят как есть, текст усекается
// до бюджета символов, остальные типы отклоняются.
func (s *DownloadService) Preview(r *http.Request, owner, fileID string) (*PreviewResult, error) {
	rec, err := s.repo.GetByID(r.Context(), owner, fileID)
	if err != nil {
		return nil, err
	}

	if !previewableTypes[rec.FileType] && !textTypes[rec.FileType] {
		return nil, &PreviewUnsupportedError{FileType: rec.FileType}
	}
	if rec.SizeBytes > s.maxPreviewSize {
		return nil, &PreviewTooLargeError{SizeBytes: rec.SizeBytes, Limit: s.maxPreviewSize}
	}

	file, err := s.blobs.Open(rec.StoredPath)
	if err != nil {
		cerr := &ConsistencyError{FileID: rec.ID, StoredPath: rec.StoredPath, Cause: err}
		s.logger.Error("Запись метаданных без blob на диске",
			slog.String("file_id", rec.ID),
			slog.String("stored_path", rec.StoredPath),
			slog.String("error", err.Error()),
		)
		return nil, cerr
	}

	if err := s.repo.Touch(r.Context(), owner, fileID); err != nil {
		s.logger.Warn("Не удалось обновить счётчик просмотров при предпросмотре",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	if textTypes[rec.FileType] {
		defer file.Close()
		text, truncated, err := truncateText(file, s.previewTextChars)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения текстового предпросмотра: %w", err)
		}
		return &PreviewResult{
			Record:      rec,
			ContentType: "text/plain; charset=utf-8",
			Text:        text,
			Truncated:   truncated,
		}, nil
	}

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &PreviewResult{
		Record:      rec,
		ContentType: contentType,
		Reader:      file,
	}, nil
}

// truncateText читает поток и усекает его до maxChars символов
// (рун, не байт), не разрывая UTF-8 последовательности.
func truncateText(r io.Reader, maxChars int) (string, bool, error) {
	// maxChars рун занимают не более 4*maxChars байт; +1 байт для
	// определения усечения
	data, err := io.ReadAll(io.LimitReader(r, int64(maxChars)*4+1))
	if err != nil {
		return "", false, err
	}

	text := string(data)
	if utf8.RuneCountInString(text) <= maxChars {
		// Проверяем, не остался ли хвост в потоке
		var tail [1]byte
		n, _ := r.Read(tail[:])
		return text, n > 0, nil
	}

	runes := []rune(text)
	return string(runes[:maxChars]), true, nil
}
