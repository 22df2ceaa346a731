// Пакет blobstore — content-addressed хранение файлов на диске.
// Путь blob детерминированно выводится из (владелец, хэш, расширение):
// user_<owner>/<первые 16 hex-символов хэша>.<ext>.
// Повторная запись идентичного содержимого тем же владельцем попадает
// в тот же путь — хранение идемпотентно per owner+content.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrBlobNotFound — blob отсутствует на диске.
// Наличие записи метаданных при этой ошибке — признак рассогласования.
var ErrBlobNotFound = errors.New("blob не найден на диске")

// hashPrefixLen — длина префикса хэша в имени blob.
// 16 hex-символов (64 бита) достаточно для исключения коллизий
// в рамках одного владельца.
const hashPrefixLen = 16

// BlobStore — управление физическими blob на диске.
type BlobStore struct {
	// dataDir — корневая директория хранения (FV_DATA_DIR)
	dataDir string
}

// New создаёт BlobStore, при необходимости создавая директорию данных.
func New(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &BlobStore{dataDir: dataDir}, nil
}

// StoredPath выводит относительный путь blob из владельца, хэша и
// расширения. Детерминированность пути — основа идемпотентности Put.
func StoredPath(owner, contentHash, ext string) string {
	name := contentHash
	if len(name) > hashPrefixLen {
		name = name[:hashPrefixLen]
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext != "" {
		name = name + "." + ext
	}
	return filepath.Join("user_"+owner, name)
}

// Put записывает содержимое reader по детерминированному пути.
// Если blob уже существует — запись пропускается: одинаковый хэш
// означает одинаковое содержимое (криптографическое допущение SHA-256).
// Запись атомарна: temp файл → fsync → rename, недописанные temp
// файлы никогда не видны под целевым путём.
func (bs *BlobStore) Put(owner, contentHash, ext string, r io.Reader) (string, error) {
	storedPath := StoredPath(owner, contentHash, ext)
	fullPath := filepath.Join(bs.dataDir, storedPath)

	if _, err := os.Stat(fullPath); err == nil {
		return storedPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории владельца: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return storedPath, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
// Возвращает ErrBlobNotFound, если файла нет на диске — независимо
// от существования записи метаданных.
func (bs *BlobStore) Open(storedPath string) (*os.File, error) {
	f, err := os.Open(filepath.Join(bs.dataDir, storedPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, storedPath)
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", storedPath, err)
	}
	return f, nil
}

// Delete удаляет blob с диска. Отсутствие файла ошибкой не считается.
func (bs *BlobStore) Delete(storedPath string) error {
	err := os.Remove(filepath.Join(bs.dataDir, storedPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob %s: %w", storedPath, err)
	}
	return nil
}

// Exists проверяет наличие blob на диске.
func (bs *BlobStore) Exists(storedPath string) bool {
	_, err := os.Stat(filepath.Join(bs.dataDir, storedPath))
	return err == nil
}

// Size возвращает размер blob на диске.
func (bs *BlobStore) Size(storedPath string) (int64, error) {
	info, err := os.Stat(filepath.Join(bs.dataDir, storedPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrBlobNotFound, storedPath)
		}
		return 0, fmt.Errorf("ошибка stat blob %s: %w", storedPath, err)
	}
	return info.Size(), nil
}

// DataDir возвращает путь к директории данных.
// Используется как директория spool-файлов, чтобы rename был в пределах
// одной файловой системы.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}
