// Пакет cache — версионируемый кэш листингов в Redis.
//
// Ключи результатов включают per-owner версию:
//
//	files:list:<owner>:v<version>:<queryhash>
//
// Инвалидация всех страниц владельца — одна атомарная операция INCR
// ключа версии; осиротевшие записи добирает TTL. Версионный счётчик
// живёт в Redis, а не в памяти процесса: инкременты безопасны при
// нескольких параллельных воркерах.
//
// Недоступность Redis никогда не фатальна: вызывающий код обязан
// деградировать до прямого запроса к PostgreSQL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus-метрики кэша листингов.
var (
	listCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_list_cache_hits_total",
		Help: "Общее количество попаданий в кэш листингов.",
	})
	listCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_list_cache_misses_total",
		Help: "Общее количество промахов кэша листингов.",
	})
	listCacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_list_cache_errors_total",
		Help: "Общее количество ошибок Redis при работе с кэшем.",
	})
)

// ListCache — кэш страниц листинга и типов файлов per owner.
type ListCache struct {
	client   *redis.Client
	listTTL  time.Duration
	typesTTL time.Duration
	logger   *slog.Logger
}

// New создаёт кэш листингов.
// listTTL — время жизни страницы результата (например, 15m).
// typesTTL — время жизни списка типов файлов (например, 1h).
func New(client *redis.Client, listTTL, typesTTL time.Duration, logger *slog.Logger) *ListCache {
	return &ListCache{
		client:   client,
		listTTL:  listTTL,
		typesTTL: typesTTL,
		logger:   logger.With(slog.String("component", "list_cache")),
	}
}

func versionKey(owner string) string {
	return "files:ver:" + owner
}

// Version возвращает текущую версию кэша владельца.
// Отсутствующий ключ инициализируется единицей (SETNX — безопасно
// при конкурентных первых чтениях).
func (c *ListCache) Version(ctx context.Context, owner string) (int64, error) {
	key := versionKey(owner)

	ver, err := c.client.Get(ctx, key).Int64()
	if err == nil {
		return ver, nil
	}
	if err != redis.Nil {
		listCacheErrorsTotal.Inc()
		return 0, fmt.Errorf("ошибка чтения версии кэша: %w", err)
	}

	// Версия ещё не заводилась — инициализируем
	if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
		listCacheErrorsTotal.Inc()
		return 0, fmt.Errorf("ошибка инициализации версии кэша: %w", err)
	}
	return c.client.Get(ctx, key).Int64()
}

// BumpVersion атомарно инкрементирует версию владельца, мгновенно
// инвалидируя все закэшированные страницы и список типов.
func (c *ListCache) BumpVersion(ctx context.Context, owner string) error {
	if err := c.client.Incr(ctx, versionKey(owner)).Err(); err != nil {
		listCacheErrorsTotal.Inc()
		return fmt.Errorf("ошибка инкремента версии кэша: %w", err)
	}
	return nil
}

// GetPage возвращает сериализованную страницу листинга для
// (owner, version, queryHash). Второй результат — признак попадания.
func (c *ListCache) GetPage(ctx context.Context, owner string, version int64, queryHash string) ([]byte, bool, error) {
	key := fmt.Sprintf("files:list:%s:v%d:%s", owner, version, queryHash)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			listCacheMissesTotal.Inc()
			return nil, false, nil
		}
		listCacheErrorsTotal.Inc()
		return nil, false, fmt.Errorf("ошибка чтения страницы из кэша: %w", err)
	}

	listCacheHitsTotal.Inc()
	return data, true, nil
}

// SetPage сохраняет сериализованную страницу с TTL листинга.
// Версия и TTL действуют независимо: побеждает то, что короче.
func (c *ListCache) SetPage(ctx context.Context, owner string, version int64, queryHash string, payload []byte) error {
	key := fmt.Sprintf("files:list:%s:v%d:%s", owner, version, queryHash)

	if err := c.client.Set(ctx, key, payload, c.listTTL).Err(); err != nil {
		listCacheErrorsTotal.Inc()
		return fmt.Errorf("ошибка записи страницы в кэш: %w", err)
	}
	return nil
}

// GetTypes возвращает закэшированный список типов файлов владельца.
func (c *ListCache) GetTypes(ctx context.Context, owner string, version int64) ([]string, bool, error) {
	key := fmt.Sprintf("files:types:%s:v%d", owner, version)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		listCacheErrorsTotal.Inc()
		return nil, false, fmt.Errorf("ошибка чтения типов из кэша: %w", err)
	}
	if data == "" {
		return nil, true, nil
	}
	return strings.Split(data, ","), true, nil
}

// SetTypes сохраняет список типов файлов с более длинным TTL:
// набор типов меняется реже, чем содержимое страниц.
func (c *ListCache) SetTypes(ctx context.Context, owner string, version int64, types []string) error {
	key := fmt.Sprintf("files:types:%s:v%d", owner, version)

	if err := c.client.Set(ctx, key, strings.Join(types, ","), c.typesTTL).Err(); err != nil {
		listCacheErrorsTotal.Inc()
		return fmt.Errorf("ошибка записи типов в кэш: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis (для readiness probe).
func (c *ListCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// QueryHash строит детерминированный хэш нормализованных параметров
// запроса. Части подаются в фиксированном порядке ("ключ=значение"),
// поэтому одинаковые запросы всегда дают один ключ кэша.
func QueryHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
