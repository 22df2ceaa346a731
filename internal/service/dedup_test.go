package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

func TestDedupCheck_NoDuplicate(t *testing.T) {
	repo := &mockFileRepo{
		FindByHashFn: func(ctx context.Context, contentHash string) (*model.FileRecord, error) {
			return nil, repository.ErrNotFound
		},
	}
	svc := NewDedupService(repo, testLogger())

	if err := svc.Check(context.Background(), "abc123", "alice"); err != nil {
		t.Errorf("Check вернул ошибку для нового хэша: %v", err)
	}
}

func TestDedupCheck_Duplicate(t *testing.T) {
	repo := &mockFileRepo{
		FindByHashFn: func(ctx context.Context, contentHash string) (*model.FileRecord, error) {
			return &model.FileRecord{ID: "file-1", Owner: "bob"}, nil
		},
	}
	svc := NewDedupService(repo, testLogger())

	err := svc.Check(context.Background(), "abc123", "alice")
	de, ok := AsDuplicate(err)
	if !ok {
		t.Fatalf("Ожидался DuplicateError, получено: %v", err)
	}
	if de.ExistingID != "file-1" || de.ExistingOwner != "bob" || de.SameOwner {
		t.Errorf("Неверные поля дубликата: %+v", de)
	}
}

func TestDedupCheck_RepoError(t *testing.T) {
	repoErr := errors.New("соединение потеряно")
	repo := &mockFileRepo{
		FindByHashFn: func(ctx context.Context, contentHash string) (*model.FileRecord, error) {
			return nil, repoErr
		},
	}
	svc := NewDedupService(repo, testLogger())

	err := svc.Check(context.Background(), "abc123", "alice")
	if !errors.Is(err, repoErr) {
		t.Errorf("Ошибка репозитория должна оборачиваться: %v", err)
	}
	if _, ok := AsDuplicate(err); ok {
		t.Error("Ошибка репозитория не должна выглядеть дубликатом")
	}
}

func TestDedupHotHashes(t *testing.T) {
	svc := NewDedupService(&mockFileRepo{}, testLogger())

	if svc.KnownHot("hash-a") {
		t.Error("Пустой LRU не должен знать хэшей")
	}

	svc.MarkIngested("hash-a", "file-a")
	if !svc.KnownHot("hash-a") {
		t.Error("Хэш должен быть в LRU после MarkIngested")
	}

	svc.Forget("hash-a")
	if svc.KnownHot("hash-a") {
		t.Error("Хэш должен исчезнуть из LRU после Forget")
	}
}

func TestDedupResolve_FindsWinner(t *testing.T) {
	repo := &mockFileRepo{
		FindByHashFn: func(ctx context.Context, contentHash string) (*model.FileRecord, error) {
			return &model.FileRecord{ID: "winner", Owner: "alice"}, nil
		},
	}
	svc := NewDedupService(repo, testLogger())

	err := svc.Resolve(context.Background(), "hash-x", "alice")
	de, ok := AsDuplicate(err)
	if !ok {
		t.Fatalf("Ожидался DuplicateError, получено: %v", err)
	}
	if de.ExistingID != "winner" || !de.SameOwner {
		t.Errorf("Неверные поля дубликата: %+v", de)
	}
	// Победитель попадает в LRU
	if !svc.KnownHot("hash-x") {
		t.Error("Resolve должен кэшировать хэш победителя")
	}
}

func TestDedupResolve_WinnerVanished(t *testing.T) {
	// Конфликт был, но запись-победитель уже удалена
	svc := NewDedupService(&mockFileRepo{}, testLogger())

	err := svc.Resolve(context.Background(), "hash-x", "alice")
	if err == nil {
		t.Fatal("Ожидалась ошибка гонки")
	}
	if _, ok := AsDuplicate(err); ok {
		t.Error("Исчезнувший победитель не должен давать DuplicateError")
	}
}
