// validate.go — валидация входных данных пайплайна загрузки и
// параметров поиска. Все проверки выполняются до какого-либо I/O.
package service

import (
	"fmt"
	"strings"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// maxFilenameLen — максимальная длина имени файла.
const maxFilenameLen = 255

// allowedExtensions — разрешённые расширения файлов.
var allowedExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "txt": true,
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"mp4": true, "avi": true, "mov": true,
	"zip": true, "rar": true,
	"csv": true, "xlsx": true, "xls": true,
}

// deniedExtensions — исполняемые расширения, запрещённые безусловно.
// Проверяется до allow-list: запрет сильнее разрешения.
var deniedExtensions = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "com": true,
	"pif": true, "scr": true, "vbs": true, "js": true,
}

// ValidateUpload проверяет имя и размер загружаемого файла.
// maxSize — лимит размера в байтах (FV_MAX_FILE_SIZE).
// Возвращает *ValidationError с именем нарушенного правила.
func ValidateUpload(filename string, size, maxSize int64) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}

	if size < 0 {
		return &ValidationError{
			Rule:    "size",
			Message: "размер файла не может быть отрицательным",
		}
	}
	if size > maxSize {
		return &ValidationError{
			Rule:    "size",
			Message: fmt.Sprintf("размер файла %d байт превышает максимум %d байт", size, maxSize),
		}
	}

	ext := model.FileTypeOf(filename)
	if deniedExtensions[ext] {
		return &ValidationError{
			Rule:    "denied_extension",
			Message: fmt.Sprintf("расширение .%s запрещено из соображений безопасности", ext),
		}
	}
	if !allowedExtensions[ext] {
		return &ValidationError{
			Rule:    "extension",
			Message: fmt.Sprintf("расширение .%s не входит в список разрешённых", ext),
		}
	}

	return nil
}

// ValidateFilename проверяет имя файла: непустое, не длиннее 255
// символов, без последовательностей обхода пути.
func ValidateFilename(filename string) error {
	if filename == "" {
		return &ValidationError{
			Rule:    "filename",
			Message: "имя файла не задано",
		}
	}
	if len(filename) > maxFilenameLen {
		return &ValidationError{
			Rule:    "filename",
			Message: fmt.Sprintf("имя файла длиннее %d символов", maxFilenameLen),
		}
	}
	if strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, "/\\") {
		return &ValidationError{
			Rule:    "filename",
			Message: "имя файла содержит недопустимые последовательности пути",
		}
	}
	return nil
}

// ValidateSearchParams проверяет согласованность параметров поиска
// до обращения к хранилищу: инвертированные диапазоны отклоняются.
func ValidateSearchParams(params repository.SearchParams) error {
	if params.MinSize != nil && *params.MinSize < 0 {
		return &ValidationError{
			Rule:    "size_range",
			Message: "минимальный размер не может быть отрицательным",
		}
	}
	if params.MinSize != nil && params.MaxSize != nil && *params.MinSize > *params.MaxSize {
		return &ValidationError{
			Rule:    "size_range",
			Message: fmt.Sprintf("минимальный размер %d больше максимального %d", *params.MinSize, *params.MaxSize),
		}
	}
	if params.CreatedAfter != nil && params.CreatedBefore != nil &&
		params.CreatedAfter.After(*params.CreatedBefore) {
		return &ValidationError{
			Rule:    "date_range",
			Message: "начало диапазона дат позже его конца",
		}
	}
	if params.Limit < 0 {
		return &ValidationError{
			Rule:    "pagination",
			Message: "limit не может быть отрицательным",
		}
	}
	if params.Offset < 0 {
		return &ValidationError{
			Rule:    "pagination",
			Message: "offset не может быть отрицательным",
		}
	}
	return nil
}
