// query.go — чтение коллекции файлов: листинг/поиск через
// версионируемый кэш, карточка файла, типы, статистика, обновление
// описания.
//
// Кэш никогда не является источником отказа: любая ошибка Redis
// логируется, и запрос уходит напрямую в PostgreSQL.
package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/filevault/internal/cache"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// Пагинация по умолчанию.
const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// FileSummary — облегчённое представление файла для листинга.
type FileSummary struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size_bytes"`
	FileType     string    `json:"file_type"`
	MimeType     string    `json:"mime_type"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	ViewCount    int64     `json:"view_count"`
}

// ListPage — страница листинга с пагинацией.
// NextCursor — непрозрачный токен следующей страницы; пустой токен
// означает последнюю страницу. Страница кэшируется целиком, включая
// курсор, поэтому попадание в кэш возвращает тот же токен.
type ListPage struct {
	Files      []FileSummary `json:"files"`
	Total      int           `json:"total"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// cursorPrefix версионирует внутреннее представление курсора:
// токен непрозрачен для клиента и может менять формат между релизами.
const cursorPrefix = "v1:"

// EncodeCursor кодирует позицию следующей страницы в непрозрачный токен.
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor разбирает токен курсора в смещение.
// Нераспознанный или чужой токен — ошибка валидации, не 500.
func DecodeCursor(token string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) {
		return 0, &ValidationError{Rule: "pagination", Message: "некорректный курсор пагинации"}
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(string(raw), cursorPrefix))
	if err != nil || offset < 0 {
		return 0, &ValidationError{Rule: "pagination", Message: "некорректный курсор пагинации"}
	}
	return offset, nil
}

// QueryService — операции чтения коллекции файлов.
type QueryService struct {
	repo   repository.FileRepository
	cache  Cache
	logger *slog.Logger
}

// NewQueryService создаёт сервис чтения.
func NewQueryService(repo repository.FileRepository, c Cache, logger *slog.Logger) *QueryService {
	return &QueryService{
		repo:   repo,
		cache:  c,
		logger: logger.With(slog.String("component", "query_service")),
	}
}

// List возвращает страницу листинга владельца.
// Попадание в кэш возвращает сериализованную страницу как есть;
// промах — запрос к БД с последующим заполнением кэша.
func (s *QueryService) List(ctx context.Context, owner string, params repository.SearchParams) (*ListPage, error) {
	if err := ValidateSearchParams(params); err != nil {
		return nil, err
	}
	normalizeLimits(&params)

	version, verOK := s.cacheVersion(ctx, owner)
	queryHash := queryCacheHash(params)

	if verOK {
		if data, hit, err := s.cache.GetPage(ctx, owner, version, queryHash); err != nil {
			s.logger.Warn("Ошибка чтения страницы из кэша",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		} else if hit {
			page := &ListPage{}
			if err := json.Unmarshal(data, page); err == nil {
				return page, nil
			}
			s.logger.Warn("Повреждённая страница в кэше, перечитываем из БД",
				slog.String("owner", owner),
			)
		}
	}

	records, total, err := s.repo.Search(ctx, owner, params)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска файлов: %w", err)
	}

	page := &ListPage{
		Files:  make([]FileSummary, 0, len(records)),
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	for _, r := range records {
		page.Files = append(page.Files, FileSummary{
			ID:           r.ID,
			OriginalName: r.OriginalName,
			SizeBytes:    r.SizeBytes,
			FileType:     r.FileType,
			MimeType:     r.MimeType,
			Description:  r.Description,
			CreatedAt:    r.CreatedAt,
			ViewCount:    r.ViewCount,
		})
	}
	if params.Offset+len(records) < total {
		page.NextCursor = EncodeCursor(params.Offset + params.Limit)
	}

	if verOK {
		if data, err := json.Marshal(page); err == nil {
			if err := s.cache.SetPage(ctx, owner, version, queryHash, data); err != nil {
				s.logger.Warn("Ошибка записи страницы в кэш",
					slog.String("owner", owner),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return page, nil
}

// Detail возвращает полную запись файла и регистрирует обращение:
// view_count и last_accessed_at обновляются атомарно на стороне БД.
func (s *QueryService) Detail(ctx context.Context, owner, fileID string) (*model.FileRecord, error) {
	rec, err := s.repo.GetByID(ctx, owner, fileID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Touch(ctx, owner, fileID); err != nil {
		// Счётчик — не причина ломать чтение
		s.logger.Warn("Не удалось обновить счётчик просмотров",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	} else {
		rec.ViewCount++
		now := time.Now().UTC()
		rec.LastAccessedAt = &now
	}

	return rec, nil
}

// Types возвращает список типов файлов владельца (кэшируется дольше
// страниц: набор типов меняется реже содержимого).
func (s *QueryService) Types(ctx context.Context, owner string) ([]string, error) {
	version, verOK := s.cacheVersion(ctx, owner)

	if verOK {
		if types, hit, err := s.cache.GetTypes(ctx, owner, version); err != nil {
			s.logger.Warn("Ошибка чтения типов из кэша",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		} else if hit {
			return types, nil
		}
	}

	types, err := s.repo.DistinctTypes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения типов файлов: %w", err)
	}

	if verOK {
		if err := s.cache.SetTypes(ctx, owner, version, types); err != nil {
			s.logger.Warn("Ошибка записи типов в кэш",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		}
	}

	return types, nil
}

// Stats возвращает агрегированную статистику файлов владельца.
func (s *QueryService) Stats(ctx context.Context, owner string) (*model.FileStats, error) {
	return s.repo.Stats(ctx, owner)
}

// UpdateDescription изменяет описание файла и инвалидирует кэш
// владельца: описание участвует в текстовом поиске.
func (s *QueryService) UpdateDescription(ctx context.Context, owner, fileID, description string) (*model.FileRecord, error) {
	if err := s.repo.UpdateDescription(ctx, owner, fileID, description); err != nil {
		return nil, err
	}

	if err := s.cache.BumpVersion(ctx, owner); err != nil {
		s.logger.Warn("Не удалось инвалидировать кэш после обновления описания",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}

	return s.repo.GetByID(ctx, owner, fileID)
}

// cacheVersion возвращает версию кэша владельца и признак доступности
// кэша. false — деградация до прямых запросов.
func (s *QueryService) cacheVersion(ctx context.Context, owner string) (int64, bool) {
	version, err := s.cache.Version(ctx, owner)
	if err != nil {
		s.logger.Warn("Кэш недоступен, переходим на прямые запросы",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	return version, true
}

// normalizeLimits приводит пагинацию к допустимым границам.
func normalizeLimits(params *repository.SearchParams) {
	if params.Limit == 0 {
		params.Limit = defaultPageLimit
	}
	if params.Limit > maxPageLimit {
		params.Limit = maxPageLimit
	}
}

// queryCacheHash строит ключ кэша из нормализованных параметров
// поиска. Порядок частей фиксирован — одинаковые запросы дают
// одинаковый ключ.
func queryCacheHash(params repository.SearchParams) string {
	var q string
	if params.Query != nil {
		q = *params.Query
	}
	var after, before string
	if params.CreatedAfter != nil {
		after = params.CreatedAfter.UTC().Format(time.RFC3339)
	}
	if params.CreatedBefore != nil {
		before = params.CreatedBefore.UTC().Format(time.RFC3339)
	}
	var minSize, maxSize string
	if params.MinSize != nil {
		minSize = strconv.FormatInt(*params.MinSize, 10)
	}
	if params.MaxSize != nil {
		maxSize = strconv.FormatInt(*params.MaxSize, 10)
	}

	return cache.QueryHash(
		"q="+q,
		"types="+strings.Join(params.FileTypes, ","),
		"after="+after,
		"before="+before,
		"min="+minSize,
		"max="+maxSize,
		"sort="+params.SortBy,
		"order="+params.SortOrder,
		"limit="+strconv.Itoa(params.Limit),
		"offset="+strconv.Itoa(params.Offset),
	)
}
