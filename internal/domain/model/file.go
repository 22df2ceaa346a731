// Пакет model — доменные модели Filevault.
package model

import (
	"strings"
	"time"
)

// FileRecord — запись о загруженном файле в таблице files.
// content_hash уникален глобально (UNIQUE constraint) — ключ дедупликации.
type FileRecord struct {
	// ID — UUID записи, назначается при создании
	ID string
	// Owner — идентификатор владельца (sub из JWT)
	Owner string
	// ContentHash — SHA-256 содержимого файла (64 hex-символа)
	ContentHash string
	// OriginalName — имя файла, заданное пользователем (до 255 символов)
	OriginalName string
	// SizeBytes — размер файла в байтах (фактически записанных)
	SizeBytes int64
	// FileType — расширение в нижнем регистре или "unknown"
	FileType string
	// MimeType — MIME-тип из заголовка загрузки (может быть пустым)
	MimeType string
	// StoredPath — относительный путь blob в хранилище
	StoredPath string
	// Description — описание файла (опционально, изменяемое)
	Description string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// ModifiedAt — время последнего изменения метаданных
	ModifiedAt time.Time
	// LastAccessedAt — время последнего чтения/скачивания (nil = не читался)
	LastAccessedAt *time.Time
	// ViewCount — счётчик просмотров, инкрементируется атомарно
	ViewCount int64
	// DuplicateOf — ссылка на оригинал, если дубликаты намеренно сохранены
	DuplicateOf *string
}

// FileTypeOf извлекает тип файла из имени: расширение в нижнем
// регистре без точки, либо "unknown" если расширения нет.
func FileTypeOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "unknown"
	}
	return strings.ToLower(filename[idx+1:])
}

// FileStats — агрегированная статистика файлов владельца.
type FileStats struct {
	// TotalFiles — общее количество файлов
	TotalFiles int
	// TotalSize — суммарный размер в байтах
	TotalSize int64
	// ByType — разбивка по типам файлов
	ByType []TypeStat
	// RecentUploads — загрузки за последние 7 суток
	RecentUploads int
}

// TypeStat — статистика по одному типу файлов.
type TypeStat struct {
	FileType string
	Count    int
	Size     int64
}

// DuplicateGroup — группа записей одного владельца с одинаковым хэшем.
// Records отсортированы по created_at по возрастанию: первый — оригинал.
type DuplicateGroup struct {
	ContentHash string
	Records     []*FileRecord
}

// Original возвращает самую раннюю запись группы.
func (g *DuplicateGroup) Original() *FileRecord {
	return g.Records[0]
}

// Duplicates возвращает все записи группы, кроме оригинала.
func (g *DuplicateGroup) Duplicates() []*FileRecord {
	return g.Records[1:]
}

// WastedBytes — объём, который освободит удаление дубликатов группы.
func (g *DuplicateGroup) WastedBytes() int64 {
	var total int64
	for _, r := range g.Duplicates() {
		total += r.SizeBytes
	}
	return total
}
