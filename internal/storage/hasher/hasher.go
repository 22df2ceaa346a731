// Пакет hasher — потоковое вычисление SHA-256 содержимого файлов.
// Поддерживает spool-режим: хэш считается одновременно с копированием
// во временный файл, чтобы данные можно было записать в хранилище
// без повторного чтения исходного потока.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Sum вычисляет SHA-256 потока и возвращает hex-дайджест и количество
// прочитанных байт. Результат не зависит от размера чанков чтения.
func Sum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка чтения потока при хэшировании: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Spooled — результат Spool: хэш, размер и временный файл с копией данных.
type Spooled struct {
	// Hash — SHA-256 содержимого (hex)
	Hash string
	// Size — размер данных в байтах
	Size int64

	path string
}

// Spool читает поток до конца, одновременно считая SHA-256 и копируя
// данные во временный файл в dir. Вызывающий код обязан вызвать
// Cleanup после использования.
func Spool(r io.Reader, dir string) (*Spooled, error) {
	f, err := os.CreateTemp(dir, "spool-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания spool-файла: %w", err)
	}

	h := sha256.New()
	tee := io.TeeReader(r, h)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("ошибка записи spool-файла: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("ошибка закрытия spool-файла: %w", err)
	}

	return &Spooled{
		Hash: hex.EncodeToString(h.Sum(nil)),
		Size: size,
		path: f.Name(),
	}, nil
}

// Open открывает свежий reader на спуленные данные.
// Может вызываться многократно.
func (s *Spooled) Open() (*os.File, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия spool-файла: %w", err)
	}
	return f, nil
}

// Cleanup удаляет временный файл. Повторный вызов безопасен.
func (s *Spooled) Cleanup() {
	_ = os.Remove(s.path)
}
