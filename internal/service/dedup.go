// dedup.go — сервис дедупликации по хэшу содержимого.
//
// Авторитетный арбитр уникальности — UNIQUE constraint на
// files.content_hash. Поверх него сервис держит небольшой expirable
// LRU недавно загруженных хэшей: пакетные pre-check'и отсекают
// очевидные дубликаты без обращения к БД. Попадание в LRU всегда
// перепроверяется запросом — кэш только подсказка, не источник истины.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filevault/internal/repository"
)

var dedupConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fv_dedup_conflicts_total",
	Help: "Общее количество обнаруженных дубликатов содержимого.",
})

// hotHashCapacity — ёмкость LRU недавних хэшей.
const hotHashCapacity = 4096

// hotHashTTL — время жизни записи в LRU недавних хэшей.
const hotHashTTL = 5 * time.Minute

// DedupService — проверка существования содержимого по хэшу.
type DedupService struct {
	repo      repository.FileRepository
	hotHashes *lru.LRU[string, string]
	logger    *slog.Logger
}

// NewDedupService создаёт сервис дедупликации.
func NewDedupService(repo repository.FileRepository, logger *slog.Logger) *DedupService {
	return &DedupService{
		repo:      repo,
		hotHashes: lru.NewLRU[string, string](hotHashCapacity, nil, hotHashTTL),
		logger:    logger.With(slog.String("component", "dedup_service")),
	}
}

// Check ищет существующую запись с данным хэшем.
// Возвращает *DuplicateError, если содержимое уже есть, nil — если нет.
// requestOwner нужен для различения "свой" и "чужой" дубликат.
func (s *DedupService) Check(ctx context.Context, contentHash, requestOwner string) error {
	existing, err := s.repo.FindByHash(ctx, contentHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка проверки дубликата: %w", err)
	}

	dedupConflictsTotal.Inc()
	return &DuplicateError{
		ExistingID:    existing.ID,
		ExistingOwner: existing.Owner,
		SameOwner:     existing.Owner == requestOwner,
	}
}

// KnownHot сообщает, встречался ли хэш недавно (LRU-подсказка).
// true означает "почти наверняка дубликат", но требует подтверждения
// через Check — запись могла быть удалена после попадания в LRU.
func (s *DedupService) KnownHot(contentHash string) bool {
	_, ok := s.hotHashes.Get(contentHash)
	return ok
}

// MarkIngested запоминает хэш как недавно загруженный.
// Вызывается пайплайном после успешной вставки записи.
func (s *DedupService) MarkIngested(contentHash, fileID string) {
	s.hotHashes.Add(contentHash, fileID)
}

// Forget убирает хэш из LRU. Вызывается при удалении записи, чтобы
// подсказка не пережила содержимое.
func (s *DedupService) Forget(contentHash string) {
	s.hotHashes.Remove(contentHash)
}

// Resolve переводит конфликт вставки (ErrConflict) в структурный
// DuplicateError через fallback-поиск существующей записи.
// Вторая половина паттерна insert-then-catch-conflict: вставка
// проиграла гонку, ищем победителя.
func (s *DedupService) Resolve(ctx context.Context, contentHash, requestOwner string) error {
	existing, err := s.repo.FindByHash(ctx, contentHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Запись-победитель успела удалиться. Повторная загрузка
			// этим же клиентом пройдёт — отдаём как гонку.
			s.logger.Warn("Конфликт вставки без существующей записи",
				slog.String("content_hash", contentHash),
			)
			return fmt.Errorf("конкурентная загрузка идентичного содержимого, повторите запрос")
		}
		return fmt.Errorf("ошибка поиска существующей записи: %w", err)
	}

	dedupConflictsTotal.Inc()
	s.hotHashes.Add(contentHash, existing.ID)
	return &DuplicateError{
		ExistingID:    existing.ID,
		ExistingOwner: existing.Owner,
		SameOwner:     existing.Owner == requestOwner,
	}
}
