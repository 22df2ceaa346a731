package service

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
)

// testLogger — тихий логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testBlobStore создаёт BlobStore во временной директории.
func testBlobStore(t *testing.T) *blobstore.BlobStore {
	t.Helper()
	bs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("не удалось создать blobstore: %v", err)
	}
	return bs
}

// mockFileRepo — мок репозитория файлов с функциональными полями.
// Невыставленные поля возвращают ErrNotFound/нулевые значения.
type mockFileRepo struct {
	CreateFn          func(ctx context.Context, f *model.FileRecord) error
	GetByIDFn         func(ctx context.Context, owner, fileID string) (*model.FileRecord, error)
	FindByHashFn      func(ctx context.Context, contentHash string) (*model.FileRecord, error)
	SearchFn          func(ctx context.Context, owner string, params repository.SearchParams) ([]*model.FileRecord, int, error)
	UpdateDescFn      func(ctx context.Context, owner, fileID, description string) error
	TouchFn           func(ctx context.Context, owner, fileID string) error
	DeleteFn          func(ctx context.Context, owner, fileID string) error
	ListByIDsFn       func(ctx context.Context, owner string, fileIDs []string) ([]*model.FileRecord, error)
	DuplicateGroupsFn func(ctx context.Context, owner string) ([]*model.DuplicateGroup, error)
	DistinctTypesFn   func(ctx context.Context, owner string) ([]string, error)
	StatsFn           func(ctx context.Context, owner string) (*model.FileStats, error)
}

func (m *mockFileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, f)
	}
	return nil
}

func (m *mockFileRepo) GetByID(ctx context.Context, owner, fileID string) (*model.FileRecord, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, owner, fileID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) FindByHash(ctx context.Context, contentHash string) (*model.FileRecord, error) {
	if m.FindByHashFn != nil {
		return m.FindByHashFn(ctx, contentHash)
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) Search(ctx context.Context, owner string, params repository.SearchParams) ([]*model.FileRecord, int, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, owner, params)
	}
	return nil, 0, nil
}

func (m *mockFileRepo) UpdateDescription(ctx context.Context, owner, fileID, description string) error {
	if m.UpdateDescFn != nil {
		return m.UpdateDescFn(ctx, owner, fileID, description)
	}
	return nil
}

func (m *mockFileRepo) Touch(ctx context.Context, owner, fileID string) error {
	if m.TouchFn != nil {
		return m.TouchFn(ctx, owner, fileID)
	}
	return nil
}

func (m *mockFileRepo) Delete(ctx context.Context, owner, fileID string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, owner, fileID)
	}
	return nil
}

func (m *mockFileRepo) ListByIDs(ctx context.Context, owner string, fileIDs []string) ([]*model.FileRecord, error) {
	if m.ListByIDsFn != nil {
		return m.ListByIDsFn(ctx, owner, fileIDs)
	}
	return nil, nil
}

func (m *mockFileRepo) DuplicateGroups(ctx context.Context, owner string) ([]*model.DuplicateGroup, error) {
	if m.DuplicateGroupsFn != nil {
		return m.DuplicateGroupsFn(ctx, owner)
	}
	return nil, nil
}

func (m *mockFileRepo) DistinctTypes(ctx context.Context, owner string) ([]string, error) {
	if m.DistinctTypesFn != nil {
		return m.DistinctTypesFn(ctx, owner)
	}
	return nil, nil
}

func (m *mockFileRepo) Stats(ctx context.Context, owner string) (*model.FileStats, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx, owner)
	}
	return &model.FileStats{}, nil
}

// mockCache — мок кэша листингов. По умолчанию ведёт себя как
// исправный пустой кэш с версией 1; считает инвалидации.
type mockCache struct {
	mu        sync.Mutex
	version   int64
	bumps     int
	pages     map[string][]byte
	VersionFn func(ctx context.Context, owner string) (int64, error)
	BumpFn    func(ctx context.Context, owner string) error
}

func newMockCache() *mockCache {
	return &mockCache{version: 1, pages: make(map[string][]byte)}
}

func (m *mockCache) Version(ctx context.Context, owner string) (int64, error) {
	if m.VersionFn != nil {
		return m.VersionFn(ctx, owner)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, nil
}

func (m *mockCache) BumpVersion(ctx context.Context, owner string) error {
	if m.BumpFn != nil {
		return m.BumpFn(ctx, owner)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.bumps++
	return nil
}

func (m *mockCache) GetPage(ctx context.Context, owner string, version int64, queryHash string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.pages[pageKey(owner, version, queryHash)]
	return data, ok, nil
}

func (m *mockCache) SetPage(ctx context.Context, owner string, version int64, queryHash string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[pageKey(owner, version, queryHash)] = payload
	return nil
}

func (m *mockCache) GetTypes(ctx context.Context, owner string, version int64) ([]string, bool, error) {
	return nil, false, nil
}

func (m *mockCache) SetTypes(ctx context.Context, owner string, version int64, types []string) error {
	return nil
}

func (m *mockCache) bumpCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumps
}

func pageKey(owner string, version int64, queryHash string) string {
	return owner + ":" + strconv.FormatInt(version, 10) + ":" + queryHash
}
