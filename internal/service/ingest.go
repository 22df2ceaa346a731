// ingest.go — пайплайн загрузки файлов.
//
// Состояния одного файла: валидация → хэширование (spool) → запись
// blob → оптимистичная вставка записи. Конкурентные загрузки
// идентичного содержимого арбитрируются UNIQUE constraint'ом БД:
// ровно одна вставка выигрывает, остальные получают структурный
// DuplicateError через fallback-поиск.
//
// Пакетная загрузка поддерживает два режима согласованности:
//   - atomic: pre-check всего батча, затем вставка в одной транзакции;
//     любой сбой — ни одна запись батча не видна;
//   - partial: файлы обрабатываются независимо, сбой одного не
//     блокирует остальные.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
	"github.com/bigkaa/filevault/internal/storage/hasher"
)

// Метрики пайплайна загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fv_uploads_total",
			Help: "Общее количество загрузок по исходам.",
		},
		[]string{"outcome"}, // created, duplicate, rejected, failed
	)
	bytesStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_bytes_stored_total",
		Help: "Общий объём записанных данных в байтах.",
	})
)

// Cache — операции кэша листингов, нужные сервисному слою.
// Реализуется internal/cache.ListCache.
type Cache interface {
	Version(ctx context.Context, owner string) (int64, error)
	BumpVersion(ctx context.Context, owner string) error
	GetPage(ctx context.Context, owner string, version int64, queryHash string) ([]byte, bool, error)
	SetPage(ctx context.Context, owner string, version int64, queryHash string, payload []byte) error
	GetTypes(ctx context.Context, owner string, version int64) ([]string, bool, error)
	SetTypes(ctx context.Context, owner string, version int64, types []string) error
}

// TxRunner выполняет функцию внутри транзакции БД.
// Реализуется repository.TxRunner.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// UploadParams — параметры загрузки одного файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — оригинальное имя файла
	Filename string
	// MimeType — MIME-тип из заголовка загрузки (может быть пустым)
	MimeType string
	// DeclaredSize — заявленный размер (из Content-Length части)
	DeclaredSize int64
	// Description — описание файла (опционально)
	Description string
}

// BatchFile — один файл пакетной загрузки.
type BatchFile struct {
	Reader       io.Reader
	Filename     string
	MimeType     string
	DeclaredSize int64
	Description  string
}

// BatchFailure — причина отказа для одного файла батча.
type BatchFailure struct {
	Filename string
	Reason   string
	// ExistingFileID — id существующей записи, если причина — дубликат
	ExistingFileID string
}

// Статусы пакетной загрузки.
const (
	BatchStatusCreated  = "created"
	BatchStatusPartial  = "partial"
	BatchStatusRejected = "rejected"
)

// BatchResult — итог пакетной загрузки.
type BatchResult struct {
	Status  string
	Created []*model.FileRecord
	Failed  []BatchFailure
}

// PreparedFile — файл, прошедший валидацию и спулинг.
// Данные лежат во временном файле, хэш и размер вычислены.
type PreparedFile struct {
	Filename    string
	MimeType    string
	Description string
	Spooled     *hasher.Spooled
}

// IngestService — пайплайн загрузки файлов.
type IngestService struct {
	repo        repository.FileRepository
	dedup       *DedupService
	blobs       *blobstore.BlobStore
	cache       Cache
	txRunner    TxRunner
	newRepo     func(db repository.DBTX) repository.FileRepository
	maxFileSize int64
	logger      *slog.Logger
}

// NewIngestService создаёт пайплайн загрузки.
func NewIngestService(
	repo repository.FileRepository,
	dedup *DedupService,
	blobs *blobstore.BlobStore,
	cache Cache,
	txRunner TxRunner,
	maxFileSize int64,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		repo:        repo,
		dedup:       dedup,
		blobs:       blobs,
		cache:       cache,
		txRunner:    txRunner,
		newRepo:     repository.NewFileRepository,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "ingest_service")),
	}
}

// Upload загружает один файл.
//
// Поток:
//  1. Валидация имени и заявленного размера
//  2. Spool: хэш + фактический размер + временная копия
//  3. Быстрая проверка по LRU недавних хэшей
//  4. Запись blob (идемпотентна по owner+hash)
//  5. Оптимистичная вставка записи; конфликт → DuplicateError
//  6. Синхронная инвалидация кэша владельца до возврата
func (s *IngestService) Upload(ctx context.Context, owner string, params UploadParams) (*model.FileRecord, error) {
	if err := ValidateUpload(params.Filename, params.DeclaredSize, s.maxFileSize); err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	sp, err := s.spool(params.Reader, params.Filename)
	if err != nil {
		if IsValidation(err) {
			uploadsTotal.WithLabelValues("rejected").Inc()
		} else {
			uploadsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}
	defer sp.Cleanup()

	// Быстрый путь: хэш недавно встречался — подтверждаем запросом
	if s.dedup.KnownHot(sp.Hash) {
		if err := s.dedup.Check(ctx, sp.Hash, owner); err != nil {
			if _, ok := AsDuplicate(err); ok {
				uploadsTotal.WithLabelValues("duplicate").Inc()
			}
			return nil, err
		}
	}

	rec, err := s.persistOne(ctx, s.repo, owner, params.Filename, params.MimeType, params.Description, sp)
	if err != nil {
		if _, ok := AsDuplicate(err); ok {
			uploadsTotal.WithLabelValues("duplicate").Inc()
		} else {
			uploadsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	s.invalidate(ctx, owner)
	uploadsTotal.WithLabelValues("created").Inc()
	bytesStoredTotal.Add(float64(rec.SizeBytes))

	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("owner", owner),
		slog.String("filename", rec.OriginalName),
		slog.Int64("size", rec.SizeBytes),
		slog.String("content_hash", rec.ContentHash),
	)
	return rec, nil
}

// UploadBatch загружает несколько файлов в указанном режиме.
func (s *IngestService) UploadBatch(ctx context.Context, owner string, files []BatchFile, atomic bool) (*BatchResult, error) {
	prepared, failures := s.SpoolBatch(files)
	return s.IngestPrepared(ctx, owner, prepared, failures, atomic)
}

// SpoolBatch валидирует и спулит файлы батча.
// Возвращает подготовленные файлы и отказы валидации/I/O.
// Вызывающий код обязан передать результат в IngestPrepared —
// он освобождает spool-файлы.
func (s *IngestService) SpoolBatch(files []BatchFile) ([]*PreparedFile, []BatchFailure) {
	var prepared []*PreparedFile
	var failures []BatchFailure

	for _, f := range files {
		if err := ValidateUpload(f.Filename, f.DeclaredSize, s.maxFileSize); err != nil {
			failures = append(failures, BatchFailure{Filename: f.Filename, Reason: err.Error()})
			continue
		}
		sp, err := s.spool(f.Reader, f.Filename)
		if err != nil {
			failures = append(failures, BatchFailure{Filename: f.Filename, Reason: err.Error()})
			continue
		}
		prepared = append(prepared, &PreparedFile{
			Filename:    f.Filename,
			MimeType:    f.MimeType,
			Description: f.Description,
			Spooled:     sp,
		})
	}
	return prepared, failures
}

// IngestPrepared завершает пакетную загрузку подготовленных файлов.
// preFailures — отказы, накопленные на этапе SpoolBatch.
// Spool-файлы освобождаются внутри независимо от исхода.
func (s *IngestService) IngestPrepared(ctx context.Context, owner string, prepared []*PreparedFile, preFailures []BatchFailure, atomic bool) (*BatchResult, error) {
	defer func() {
		for _, p := range prepared {
			p.Spooled.Cleanup()
		}
	}()

	if atomic {
		return s.ingestAtomic(ctx, owner, prepared, preFailures)
	}
	return s.ingestPartial(ctx, owner, prepared, preFailures)
}

// ingestAtomic — режим all-or-nothing: полный pre-check, затем
// вставка всех записей в одной транзакции. Любой отказ где угодно —
// ни один файл батча не сохраняется, возвращается полный список
// отказов.
func (s *IngestService) ingestAtomic(ctx context.Context, owner string, prepared []*PreparedFile, preFailures []BatchFailure) (*BatchResult, error) {
	failures := append([]BatchFailure(nil), preFailures...)

	// Дубликаты внутри самого батча
	seen := make(map[string]string, len(prepared))
	var unique []*PreparedFile
	for _, p := range prepared {
		if first, ok := seen[p.Spooled.Hash]; ok {
			failures = append(failures, BatchFailure{
				Filename: p.Filename,
				Reason:   fmt.Sprintf("дубликат файла %s в том же батче", first),
			})
			continue
		}
		seen[p.Spooled.Hash] = p.Filename
		unique = append(unique, p)
	}

	// Pre-check по существующим записям
	var candidates []*PreparedFile
	for _, p := range unique {
		err := s.dedup.Check(ctx, p.Spooled.Hash, owner)
		if err == nil {
			candidates = append(candidates, p)
			continue
		}
		if de, ok := AsDuplicate(err); ok {
			failures = append(failures, BatchFailure{
				Filename:       p.Filename,
				Reason:         de.Error(),
				ExistingFileID: de.ExistingID,
			})
			continue
		}
		return nil, fmt.Errorf("ошибка pre-check батча: %w", err)
	}

	if len(failures) > 0 {
		uploadsTotal.WithLabelValues("rejected").Add(float64(len(prepared) + len(preFailures)))
		return &BatchResult{Status: BatchStatusRejected, Failed: failures}, nil
	}

	// Blob'ы пишутся до коммита. При откате транзакции удаляются только
	// пути без ссылающихся committed-записей: конкурентный победитель с
	// тем же владельцем разделяет детерминированный путь с откатываемым
	// файлом, и его blob трогать нельзя.
	records := make([]*model.FileRecord, 0, len(candidates))
	rollbackBlobs := func() {
		for _, rec := range records {
			if existing, lookupErr := s.repo.FindByHash(ctx, rec.ContentHash); lookupErr == nil && existing.StoredPath == rec.StoredPath {
				continue
			}
			if err := s.blobs.Delete(rec.StoredPath); err != nil {
				s.logger.Warn("Не удалось удалить blob при откате батча",
					slog.String("stored_path", rec.StoredPath),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	for _, p := range candidates {
		rec, _, err := s.writeBlob(owner, p)
		if err != nil {
			rollbackBlobs()
			return nil, err
		}
		records = append(records, rec)
	}

	err := s.txRunner.RunInTx(ctx, func(tx pgx.Tx) error {
		txRepo := s.newRepo(tx)
		for _, rec := range records {
			if err := txRepo.Create(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		rollbackBlobs()
		// Гонка после pre-check: содержимое успело появиться между
		// проверкой и вставкой. Отдаём как отказ всего батча.
		if errors.Is(err, repository.ErrConflict) {
			uploadsTotal.WithLabelValues("rejected").Add(float64(len(prepared)))
			return &BatchResult{
				Status: BatchStatusRejected,
				Failed: []BatchFailure{{Reason: "содержимое одного из файлов было загружено конкурентно, батч отклонён"}},
			}, nil
		}
		return nil, fmt.Errorf("ошибка транзакции батча: %w", err)
	}

	for _, rec := range records {
		s.dedup.MarkIngested(rec.ContentHash, rec.ID)
		bytesStoredTotal.Add(float64(rec.SizeBytes))
	}
	uploadsTotal.WithLabelValues("created").Add(float64(len(records)))

	s.invalidate(ctx, owner)

	s.logger.Info("Атомарный батч загружен",
		slog.String("owner", owner),
		slog.Int("files", len(records)),
	)
	return &BatchResult{Status: BatchStatusCreated, Created: records}, nil
}

// ingestPartial — best-effort режим: каждый файл независим, дубликат
// или сбой одного не блокирует остальные.
func (s *IngestService) ingestPartial(ctx context.Context, owner string, prepared []*PreparedFile, preFailures []BatchFailure) (*BatchResult, error) {
	result := &BatchResult{Failed: append([]BatchFailure(nil), preFailures...)}

	for _, p := range prepared {
		rec, err := s.persistOne(ctx, s.repo, owner, p.Filename, p.MimeType, p.Description, p.Spooled)
		if err != nil {
			failure := BatchFailure{Filename: p.Filename, Reason: err.Error()}
			if de, ok := AsDuplicate(err); ok {
				failure.ExistingFileID = de.ExistingID
				uploadsTotal.WithLabelValues("duplicate").Inc()
			} else {
				uploadsTotal.WithLabelValues("failed").Inc()
			}
			result.Failed = append(result.Failed, failure)
			continue
		}
		result.Created = append(result.Created, rec)
		uploadsTotal.WithLabelValues("created").Inc()
		bytesStoredTotal.Add(float64(rec.SizeBytes))
	}

	switch {
	case len(result.Created) == 0:
		result.Status = BatchStatusRejected
	case len(result.Failed) == 0:
		result.Status = BatchStatusCreated
	default:
		result.Status = BatchStatusPartial
	}

	if len(result.Created) > 0 {
		s.invalidate(ctx, owner)
	}

	s.logger.Info("Батч обработан",
		slog.String("owner", owner),
		slog.String("status", result.Status),
		slog.Int("created", len(result.Created)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// spool читает поток с учётом лимита размера.
// Фактический размер проверяется после чтения: заявленному
// Content-Length доверять нельзя.
func (s *IngestService) spool(r io.Reader, filename string) (*hasher.Spooled, error) {
	sp, err := hasher.Spool(io.LimitReader(r, s.maxFileSize+1), s.blobs.DataDir())
	if err != nil {
		return nil, fmt.Errorf("ошибка буферизации загрузки: %w", err)
	}
	if sp.Size > s.maxFileSize {
		sp.Cleanup()
		return nil, &ValidationError{
			Rule:    "size",
			Message: fmt.Sprintf("фактический размер файла %s превышает максимум %d байт", filename, s.maxFileSize),
		}
	}
	return sp, nil
}

// writeBlob записывает спуленные данные в blobstore и формирует
// запись метаданных (без вставки в БД).
func (s *IngestService) writeBlob(owner string, p *PreparedFile) (*model.FileRecord, string, error) {
	src, err := p.Spooled.Open()
	if err != nil {
		return nil, "", fmt.Errorf("ошибка чтения spool-файла: %w", err)
	}
	defer src.Close()

	ext := model.FileTypeOf(p.Filename)
	storedPath, err := s.blobs.Put(owner, p.Spooled.Hash, ext, src)
	if err != nil {
		return nil, "", fmt.Errorf("ошибка записи blob: %w", err)
	}

	rec := &model.FileRecord{
		ID:           uuid.New().String(),
		Owner:        owner,
		ContentHash:  p.Spooled.Hash,
		OriginalName: p.Filename,
		SizeBytes:    p.Spooled.Size,
		FileType:     ext,
		MimeType:     p.MimeType,
		StoredPath:   storedPath,
		Description:  p.Description,
	}
	return rec, storedPath, nil
}

// persistOne записывает blob и вставляет запись оптимистично.
// Конфликт уникальности транслируется в DuplicateError; свежезаписанный
// blob удаляется, только если существующая запись принадлежит другому
// владельцу — при том же владельце путь blob идентичен и разделяется
// с существующей записью.
func (s *IngestService) persistOne(ctx context.Context, repo repository.FileRepository, owner, filename, mimeType, description string, sp *hasher.Spooled) (*model.FileRecord, error) {
	rec, storedPath, err := s.writeBlob(owner, &PreparedFile{
		Filename:    filename,
		MimeType:    mimeType,
		Description: description,
		Spooled:     sp,
	})
	if err != nil {
		return nil, err
	}

	if err := repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			dupErr := s.dedup.Resolve(ctx, sp.Hash, owner)
			if de, ok := AsDuplicate(dupErr); !ok || de.ExistingOwner != owner {
				if delErr := s.blobs.Delete(storedPath); delErr != nil {
					s.logger.Warn("Не удалось удалить blob после конфликта",
						slog.String("stored_path", storedPath),
						slog.String("error", delErr.Error()),
					)
				}
			}
			return nil, dupErr
		}
		// Запись не вставлена — blob без ссылок, убираем
		if delErr := s.blobs.Delete(storedPath); delErr != nil {
			s.logger.Warn("Не удалось удалить blob после сбоя вставки",
				slog.String("stored_path", storedPath),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("ошибка сохранения метаданных: %w", err)
	}

	s.dedup.MarkIngested(sp.Hash, rec.ID)
	return rec, nil
}

// invalidate инкрементирует версию кэша владельца.
// Ошибка Redis не фатальна: читатели деградируют до прямых запросов,
// TTL добирает устаревшие страницы.
func (s *IngestService) invalidate(ctx context.Context, owner string) {
	if err := s.cache.BumpVersion(ctx, owner); err != nil {
		s.logger.Warn("Не удалось инвалидировать кэш листинга",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}
}
