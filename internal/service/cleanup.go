// cleanup.go — удаление файлов и зачистка дубликатов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
)

var bytesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fv_bytes_reclaimed_total",
	Help: "Общий объём, освобождённый удалением файлов и дубликатов.",
})

// ErrConfirmationRequired — массовое удаление запрошено без флага
// подтверждения.
var ErrConfirmationRequired = errors.New("массовое удаление требует явного подтверждения")

// CleanupService — удаление записей, blob'ов и зачистка дубликатов.
type CleanupService struct {
	repo   repository.FileRepository
	blobs  *blobstore.BlobStore
	dedup  *DedupService
	cache  Cache
	logger *slog.Logger
}

// NewCleanupService создаёт сервис удаления.
func NewCleanupService(
	repo repository.FileRepository,
	blobs *blobstore.BlobStore,
	dedup *DedupService,
	c Cache,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		repo:   repo,
		blobs:  blobs,
		dedup:  dedup,
		cache:  c,
		logger: logger.With(slog.String("component", "cleanup_service")),
	}
}

// Delete удаляет файл владельца: запись, blob, подсказку дедупликации.
// Сбой удаления blob не блокирует удаление записи — логируется как
// рассогласование и чинится out-of-band.
func (s *CleanupService) Delete(ctx context.Context, owner, fileID string) error {
	rec, err := s.repo.GetByID(ctx, owner, fileID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, owner, fileID); err != nil {
		return err
	}

	s.removeBlob(rec)
	s.dedup.Forget(rec.ContentHash)
	s.invalidate(ctx, owner)
	bytesReclaimedTotal.Add(float64(rec.SizeBytes))

	s.logger.Info("Файл удалён",
		slog.String("file_id", fileID),
		slog.String("owner", owner),
		slog.Int64("size", rec.SizeBytes),
	)
	return nil
}

// BulkDeleteResult — итог массового удаления.
type BulkDeleteResult struct {
	FilesDeleted   int
	BytesReclaimed int64
}

// DeleteMany удаляет несколько файлов владельца.
// Без confirm — ErrConfirmationRequired. Принадлежность каждого id
// проверяется до удаления чего-либо: чужой или несуществующий id
// отклоняет весь запрос.
func (s *CleanupService) DeleteMany(ctx context.Context, owner string, fileIDs []string, confirm bool) (*BulkDeleteResult, error) {
	if !confirm {
		return nil, ErrConfirmationRequired
	}
	if len(fileIDs) == 0 {
		return nil, &ValidationError{Rule: "file_ids", Message: "список файлов пуст"}
	}

	records, err := s.repo.ListByIDs(ctx, owner, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки принадлежности файлов: %w", err)
	}

	found := make(map[string]bool, len(records))
	for _, r := range records {
		found[r.ID] = true
	}
	for _, id := range fileIDs {
		if !found[id] {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, id)
		}
	}

	result := &BulkDeleteResult{}
	for _, rec := range records {
		if err := s.repo.Delete(ctx, owner, rec.ID); err != nil {
			// Конкурентное удаление той же записи — пропускаем
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("ошибка удаления файла %s: %w", rec.ID, err)
		}
		s.removeBlob(rec)
		s.dedup.Forget(rec.ContentHash)
		result.FilesDeleted++
		result.BytesReclaimed += rec.SizeBytes
	}

	s.invalidate(ctx, owner)
	bytesReclaimedTotal.Add(float64(result.BytesReclaimed))

	s.logger.Info("Массовое удаление выполнено",
		slog.String("owner", owner),
		slog.Int("files", result.FilesDeleted),
		slog.Int64("bytes", result.BytesReclaimed),
	)
	return result, nil
}

// DuplicateReport возвращает группы записей владельца с одинаковым
// содержимым. Внутри группы записи упорядочены по created_at:
// первая — оригинал.
func (s *CleanupService) DuplicateReport(ctx context.Context, owner string) ([]*model.DuplicateGroup, error) {
	return s.repo.DuplicateGroups(ctx, owner)
}

// CleanupResult — итог зачистки дубликатов.
type CleanupResult struct {
	GroupsProcessed int
	FilesDeleted    int
	BytesReclaimed  int64
}

// CleanupDuplicates удаляет в каждой группе дубликатов все записи,
// кроме самой ранней (оригинала), и возвращает объём освобождённого
// места.
func (s *CleanupService) CleanupDuplicates(ctx context.Context, owner string) (*CleanupResult, error) {
	groups, err := s.repo.DuplicateGroups(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска дубликатов: %w", err)
	}

	result := &CleanupResult{}
	for _, g := range groups {
		original := g.Original()
		deleted := 0
		for _, dup := range g.Duplicates() {
			if err := s.repo.Delete(ctx, owner, dup.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("ошибка удаления дубликата %s: %w", dup.ID, err)
			}
			// Blob дубликата удаляется, только если его путь не
			// совпадает с путём оригинала: при одинаковом владельце
			// и хэше путь детерминированно общий.
			if dup.StoredPath != original.StoredPath {
				s.removeBlob(dup)
			}
			deleted++
			result.FilesDeleted++
			result.BytesReclaimed += dup.SizeBytes
		}
		if deleted > 0 {
			result.GroupsProcessed++
		}
	}

	if result.FilesDeleted > 0 {
		s.invalidate(ctx, owner)
		bytesReclaimedTotal.Add(float64(result.BytesReclaimed))
	}

	s.logger.Info("Зачистка дубликатов выполнена",
		slog.String("owner", owner),
		slog.Int("groups", result.GroupsProcessed),
		slog.Int("files", result.FilesDeleted),
		slog.Int64("bytes", result.BytesReclaimed),
	)
	return result, nil
}

// removeBlob удаляет blob записи best-effort.
func (s *CleanupService) removeBlob(rec *model.FileRecord) {
	if err := s.blobs.Delete(rec.StoredPath); err != nil {
		s.logger.Error("Не удалось удалить blob — рассогласование диска",
			slog.String("file_id", rec.ID),
			slog.String("stored_path", rec.StoredPath),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate инкрементирует версию кэша владельца (ошибка не фатальна).
func (s *CleanupService) invalidate(ctx context.Context, owner string) {
	if err := s.cache.BumpVersion(ctx, owner); err != nil {
		s.logger.Warn("Не удалось инвалидировать кэш после удаления",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}
}
