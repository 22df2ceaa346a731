package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/filevault/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `id, owner_id, content_hash, original_name, size_bytes, file_type,
	mime_type, stored_path, description, created_at, modified_at,
	last_accessed_at, view_count, duplicate_of`

// SearchParams — параметры поиска файлов владельца.
// Поля-указатели: nil = фильтр не применяется.
type SearchParams struct {
	// Query — поиск подстроки по имени файла и описанию (case-insensitive)
	Query *string
	// FileTypes — фильтр по типам файлов (запись должна иметь один из них)
	FileTypes []string
	// CreatedAfter — файлы, созданные не раньше указанной даты (включительно)
	CreatedAfter *time.Time
	// CreatedBefore — файлы, созданные не позже указанной даты (включительно)
	CreatedBefore *time.Time
	// MinSize — минимальный размер файла (байт, включительно)
	MinSize *int64
	// MaxSize — максимальный размер файла (байт, включительно)
	MaxSize *int64
	// SortBy — поле сортировки: created_at, original_name, size_bytes
	SortBy string
	// SortOrder — направление: asc, desc
	SortOrder string
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// FileRepository — доступ к таблице files.
// Все операции чтения и мутации, кроме Create, скоупированы владельцем.
type FileRepository interface {
	// Create вставляет запись оптимистично. При нарушении уникальности
	// content_hash возвращает ErrConflict (не generic-ошибку) — это
	// требование race-tolerant дедупликации.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает файл владельца по UUID или ErrNotFound.
	GetByID(ctx context.Context, owner, fileID string) (*model.FileRecord, error)
	// FindByHash возвращает запись с данным content_hash (любого владельца)
	// или ErrNotFound. Lookup-половина паттерна insert-then-catch-conflict.
	FindByHash(ctx context.Context, contentHash string) (*model.FileRecord, error)
	// Search выполняет поиск файлов владельца по фильтрам.
	// Возвращает: список, общее количество совпадений, ошибка.
	Search(ctx context.Context, owner string, params SearchParams) ([]*model.FileRecord, int, error)
	// UpdateDescription обновляет описание и modified_at.
	UpdateDescription(ctx context.Context, owner, fileID, description string) error
	// Touch атомарно инкрементирует view_count и обновляет last_accessed_at.
	Touch(ctx context.Context, owner, fileID string) error
	// Delete удаляет запись владельца.
	Delete(ctx context.Context, owner, fileID string) error
	// ListByIDs возвращает записи владельца с указанными id.
	// Используется bulk delete для проверки принадлежности до удаления.
	ListByIDs(ctx context.Context, owner string, fileIDs []string) ([]*model.FileRecord, error)
	// DuplicateGroups возвращает группы записей владельца с одинаковым
	// content_hash (>1 записи), внутри группы — created_at по возрастанию.
	DuplicateGroups(ctx context.Context, owner string) ([]*model.DuplicateGroup, error)
	// DistinctTypes возвращает отсортированный список типов файлов владельца.
	DistinctTypes(ctx context.Context, owner string) ([]string, error)
	// Stats возвращает агрегированную статистику файлов владельца.
	Stats(ctx context.Context, owner string) (*model.FileStats, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (id, owner_id, content_hash, original_name, size_bytes,
			file_type, mime_type, stored_path, description, duplicate_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, modified_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.Owner, f.ContentHash, f.OriginalName, f.SizeBytes,
		f.FileType, f.MimeType, f.StoredPath, f.Description, f.DuplicateOf,
	).Scan(&f.CreatedAt, &f.ModifiedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: content_hash %s", ErrConflict, f.ContentHash)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, owner, fileID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1 AND owner_id = $2`, fileColumns)

	f := &model.FileRecord{}
	err := scanFile(r.db.QueryRow(ctx, query, fileID, owner), f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) FindByHash(ctx context.Context, contentHash string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE content_hash = $1`, fileColumns)

	f := &model.FileRecord{}
	err := scanFile(r.db.QueryRow(ctx, query, contentHash), f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска по хэшу: %w", err)
	}
	return f, nil
}

func (r *fileRepo) Search(ctx context.Context, owner string, params SearchParams) ([]*model.FileRecord, int, error) {
	where, args := buildSearchWhere(owner, params)
	argNum := len(args) + 1

	orderBy := buildOrderBy(params.SortBy, params.SortOrder)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM files %s %s LIMIT $%d OFFSET $%d`,
		fileColumns, where, orderBy, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := scanFile(rows, f); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество — те же фильтры, без LIMIT/OFFSET
	countWhere, countArgs := buildSearchWhere(owner, params)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	return result, total, nil
}

func (r *fileRepo) UpdateDescription(ctx context.Context, owner, fileID, description string) error {
	query := `
		UPDATE files
		SET description = $3, modified_at = now()
		WHERE id = $1 AND owner_id = $2`

	tag, err := r.db.Exec(ctx, query, fileID, owner, description)
	if err != nil {
		return fmt.Errorf("ошибка обновления описания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch выполняет read-modify-write на стороне БД одним UPDATE:
// конкурентные чтения не теряют инкременты view_count.
func (r *fileRepo) Touch(ctx context.Context, owner, fileID string) error {
	query := `
		UPDATE files
		SET view_count = view_count + 1, last_accessed_at = now()
		WHERE id = $1 AND owner_id = $2`

	tag, err := r.db.Exec(ctx, query, fileID, owner)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика просмотров: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) Delete(ctx context.Context, owner, fileID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1 AND owner_id = $2`, fileID, owner)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) ListByIDs(ctx context.Context, owner string, fileIDs []string) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE owner_id = $1 AND id = ANY($2)`, fileColumns)

	rows, err := r.db.Query(ctx, query, owner, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов по id: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := scanFile(rows, f); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) DuplicateGroups(ctx context.Context, owner string) ([]*model.DuplicateGroup, error) {
	// Хэши с более чем одной записью у владельца; внутри группы —
	// created_at по возрастанию (первая запись — оригинал).
	query := fmt.Sprintf(`
		SELECT %s FROM files
		WHERE owner_id = $1 AND content_hash IN (
			SELECT content_hash FROM files
			WHERE owner_id = $1
			GROUP BY content_hash
			HAVING COUNT(*) > 1
		)
		ORDER BY content_hash, created_at ASC`, fileColumns)

	rows, err := r.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска дубликатов: %w", err)
	}
	defer rows.Close()

	var groups []*model.DuplicateGroup
	var current *model.DuplicateGroup
	for rows.Next() {
		f := &model.FileRecord{}
		if err := scanFile(rows, f); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		if current == nil || current.ContentHash != f.ContentHash {
			current = &model.DuplicateGroup{ContentHash: f.ContentHash}
			groups = append(groups, current)
		}
		current.Records = append(current.Records, f)
	}
	return groups, rows.Err()
}

func (r *fileRepo) DistinctTypes(ctx context.Context, owner string) ([]string, error) {
	query := `SELECT DISTINCT file_type FROM files WHERE owner_id = $1 ORDER BY file_type`

	rows, err := r.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения типов файлов: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("ошибка сканирования типа: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (r *fileRepo) Stats(ctx context.Context, owner string) (*model.FileStats, error) {
	stats := &model.FileStats{}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0),
			COUNT(*) FILTER (WHERE created_at >= now() - interval '7 days')
		FROM files WHERE owner_id = $1`, owner,
	).Scan(&stats.TotalFiles, &stats.TotalSize, &stats.RecentUploads)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статистики: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT file_type, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM files WHERE owner_id = $1
		GROUP BY file_type
		ORDER BY COUNT(*) DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики по типам: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts model.TypeStat
		if err := rows.Scan(&ts.FileType, &ts.Count, &ts.Size); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		stats.ByType = append(stats.ByType, ts)
	}
	return stats, rows.Err()
}

// scanFile сканирует одну строку fileColumns в FileRecord.
func scanFile(row pgx.Row, f *model.FileRecord) error {
	return row.Scan(
		&f.ID, &f.Owner, &f.ContentHash, &f.OriginalName, &f.SizeBytes, &f.FileType,
		&f.MimeType, &f.StoredPath, &f.Description, &f.CreatedAt, &f.ModifiedAt,
		&f.LastAccessedAt, &f.ViewCount, &f.DuplicateOf,
	)
}

// buildSearchWhere строит WHERE-условие и аргументы для поиска файлов.
// Первый аргумент всегда owner_id — все выборки скоупированы владельцем.
func buildSearchWhere(owner string, params SearchParams) (whereClause string, args []any) {
	conditions := []string{"owner_id = $1"}
	args = append(args, owner)
	argNum := 2

	// Поиск подстроки по имени файла и описанию
	if params.Query != nil && *params.Query != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(original_name ILIKE $%d OR description ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+*params.Query+"%")
		argNum++
	}

	// Фильтр по типам файлов (любой из указанных)
	if len(params.FileTypes) > 0 {
		conditions = append(conditions, fmt.Sprintf("file_type = ANY($%d)", argNum))
		args = append(args, params.FileTypes)
		argNum++
	}

	// Диапазон даты создания (включительно)
	if params.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *params.CreatedAfter)
		argNum++
	}
	if params.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argNum))
		args = append(args, *params.CreatedBefore)
		argNum++
	}

	// Диапазон размера (включительно)
	if params.MinSize != nil {
		conditions = append(conditions, fmt.Sprintf("size_bytes >= $%d", argNum))
		args = append(args, *params.MinSize)
		argNum++
	}
	if params.MaxSize != nil {
		conditions = append(conditions, fmt.Sprintf("size_bytes <= $%d", argNum))
		args = append(args, *params.MaxSize)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// defaultSortColumn — сортировка по умолчанию и fallback для
// нераспознанных значений SortBy.
const defaultSortColumn = "created_at"

// buildOrderBy строит ORDER BY с безопасным whitelist полей.
// Предотвращает SQL-инъекции — только разрешённые значения.
// Нераспознанное поле сортировки — fallback на created_at DESC целиком.
func buildOrderBy(sortBy, sortOrder string) string {
	var column string
	switch sortBy {
	case "original_name":
		column = "original_name"
	case "size_bytes":
		column = "size_bytes"
	case defaultSortColumn:
		column = defaultSortColumn
	default:
		return fmt.Sprintf("ORDER BY %s DESC", defaultSortColumn)
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}
