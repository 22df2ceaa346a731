// Пакет service — бизнес-логика Filevault.
// errors.go — таксономия ошибок сервисного слоя.
//
// Валидационные и дубликатные исходы — структурные результаты
// пайплайна, а не generic-сбои: обработчики обязаны различать их
// по типу и отдавать клиенту соответствующий код.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/filevault/internal/repository"
)

// ErrNotFound — файл не найден или принадлежит другому владельцу.
// Преднамеренно неотличимо для клиента: чужие файлы выглядят
// несуществующими.
var ErrNotFound = repository.ErrNotFound

// ValidationError — входные данные не прошли проверку.
// Rule называет нарушенное правило, Message — человекочитаемая причина.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("валидация не пройдена (%s): %s", e.Rule, e.Message)
}

// DuplicateError — содержимое уже существует в хранилище.
// Не сбой, а структурный исход дедупликации: содержит ссылку на
// существующую запись и признак, принадлежит ли она тому же владельцу.
type DuplicateError struct {
	// ExistingID — id записи с тем же content_hash
	ExistingID string
	// ExistingOwner — владелец существующей записи
	ExistingOwner string
	// SameOwner — true, если дубликат загружает тот же владелец
	SameOwner bool
}

func (e *DuplicateError) Error() string {
	if e.SameOwner {
		return fmt.Sprintf("файл уже загружен вами ранее: %s", e.ExistingID)
	}
	return fmt.Sprintf("идентичное содержимое уже загружено другим пользователем: %s", e.ExistingID)
}

// ConsistencyError — рассогласование между метаданными и диском:
// запись существует, blob отсутствует (или наоборот). Логируется,
// клиенту отдаётся как not-found, чинится out-of-band.
type ConsistencyError struct {
	FileID     string
	StoredPath string
	Cause      error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("рассогласование метаданных и диска: файл %s, путь %s: %v",
		e.FileID, e.StoredPath, e.Cause)
}

func (e *ConsistencyError) Unwrap() error { return e.Cause }

// IsValidation сообщает, является ли ошибка валидационной.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsDuplicate извлекает DuplicateError из цепочки ошибок.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var de *DuplicateError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
