package service

import (
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/filevault/internal/repository"
)

const testMaxSize = 104857600 // 100 MB

// TestValidateUpload_Accept проверяет допустимые файлы.
func TestValidateUpload_Accept(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
	}{
		{"pdf отчёт", "report_final.pdf", 1024},
		{"jpeg в верхнем регистре", "PHOTO.JPG", 2048},
		{"нулевой размер", "empty.txt", 0},
		{"ровно на лимите", "big.zip", testMaxSize},
		{"таблица", "data.xlsx", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUpload(tt.filename, tt.size, testMaxSize); err != nil {
				t.Errorf("неожиданная ошибка для %q: %v", tt.filename, err)
			}
		})
	}
}

// TestValidateUpload_Reject проверяет отклоняемые файлы
// и имя нарушенного правила.
func TestValidateUpload_Reject(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		rule     string
	}{
		{"обход пути", "../../etc/passwd", 100, "filename"},
		{"прямой слэш", "dir/file.txt", 100, "filename"},
		{"обратный слэш", `dir\file.txt`, 100, "filename"},
		{"пустое имя", "", 100, "filename"},
		{"слишком длинное имя", strings.Repeat("a", 252) + ".pdf", 100, "filename"},
		{"превышение размера", "big.pdf", testMaxSize + 1, "size"},
		{"отрицательный размер", "neg.pdf", -1, "size"},
		{"исполняемый файл", "virus.exe", 100, "denied_extension"},
		{"скрипт", "payload.js", 100, "denied_extension"},
		{"вне allow-list", "archive.7z", 100, "extension"},
		{"без расширения", "README", 100, "extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.filename, tt.size, testMaxSize)
			if err == nil {
				t.Fatalf("ожидалась ошибка для %q", tt.filename)
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("ожидался *ValidationError, получен %T", err)
			}
			if ve.Rule != tt.rule {
				t.Errorf("правило: ожидалось %q, получено %q", tt.rule, ve.Rule)
			}
		})
	}
}

// TestValidateUpload_DenyBeatsAllow проверяет, что deny-list сильнее
// allow-list: запрещённое расширение отклоняется даже будучи разрешённым.
func TestValidateUpload_DenyBeatsAllow(t *testing.T) {
	err := ValidateUpload("script.js", 100, testMaxSize)
	if err == nil {
		t.Fatal("ожидалась ошибка для .js")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Rule != "denied_extension" {
		t.Errorf("ожидалось правило denied_extension, получено %v", err)
	}
}

// TestValidateSearchParams_InvertedSizeRange проверяет отклонение
// инвертированного диапазона размеров до обращения к хранилищу.
func TestValidateSearchParams_InvertedSizeRange(t *testing.T) {
	minSize := int64(1000)
	maxSize := int64(500)

	err := ValidateSearchParams(repository.SearchParams{
		MinSize: &minSize,
		MaxSize: &maxSize,
	})
	if err == nil {
		t.Fatal("ожидалась ошибка для min_size > max_size")
	}
	if !IsValidation(err) {
		t.Errorf("ожидался ValidationError, получен %T", err)
	}
}

// TestValidateSearchParams_InvertedDateRange проверяет отклонение
// инвертированного диапазона дат.
func TestValidateSearchParams_InvertedDateRange(t *testing.T) {
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := ValidateSearchParams(repository.SearchParams{
		CreatedAfter:  &after,
		CreatedBefore: &before,
	})
	if err == nil {
		t.Fatal("ожидалась ошибка для инвертированного диапазона дат")
	}
}

// TestValidateSearchParams_Valid проверяет корректные параметры.
func TestValidateSearchParams_Valid(t *testing.T) {
	minSize := int64(100)
	maxSize := int64(1000)
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	err := ValidateSearchParams(repository.SearchParams{
		MinSize:       &minSize,
		MaxSize:       &maxSize,
		CreatedAfter:  &after,
		CreatedBefore: &before,
		Limit:         50,
		Offset:        0,
	})
	if err != nil {
		t.Errorf("неожиданная ошибка: %v", err)
	}
}

// TestValidateSearchParams_NegativePagination проверяет отклонение
// отрицательных limit/offset.
func TestValidateSearchParams_NegativePagination(t *testing.T) {
	if err := ValidateSearchParams(repository.SearchParams{Limit: -1}); err == nil {
		t.Error("ожидалась ошибка для отрицательного limit")
	}
	if err := ValidateSearchParams(repository.SearchParams{Offset: -1}); err == nil {
		t.Error("ожидалась ошибка для отрицательного offset")
	}
}
