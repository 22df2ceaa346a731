// main.go — точка входа Filevault.
// Сборка зависимостей: конфигурация, логгер, PostgreSQL (pgxpool +
// миграции), Redis-кэш листингов, blob-хранилище, сервисный слой,
// мониторинг зависимостей и HTTP-сервер.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/filevault/internal/api/handlers"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/cache"
	"github.com/bigkaa/filevault/internal/config"
	"github.com/bigkaa/filevault/internal/database"
	"github.com/bigkaa/filevault/internal/repository"
	"github.com/bigkaa/filevault/internal/server"
	"github.com/bigkaa/filevault/internal/service"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
)

// jwtLeeway — допуск на рассинхронизацию часов при проверке exp/nbf.
const jwtLeeway = 30 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Filevault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection
	// pool mode): проверка здоровья идёт через существующий пул и
	// обнаруживает его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Redis — версионируемый кэш листингов.
	// Недоступность Redis не блокирует старт: чтения деградируют до
	// прямых запросов к PostgreSQL.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis недоступен при старте — кэш листингов деградирует",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
	}
	listCache := cache.New(redisClient, cfg.ListCacheTTL, cfg.TypesCacheTTL, logger)

	// 6. Blob-хранилище
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Repositories
	fileRepo := repository.NewFileRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 8. Services
	dedupSvc := service.NewDedupService(fileRepo, logger)
	ingestSvc := service.NewIngestService(
		fileRepo, dedupSvc, blobs, listCache, txRunner,
		cfg.MaxFileSize, logger,
	)
	querySvc := service.NewQueryService(fileRepo, listCache, logger)
	downloadSvc := service.NewDownloadService(
		fileRepo, blobs,
		cfg.MaxPreviewSize, cfg.PreviewTextChars, logger,
	)
	cleanupSvc := service.NewCleanupService(fileRepo, blobs, dedupSvc, listCache, logger)
	worker := service.NewBatchWorker(ingestSvc, logger)

	// 9. Мониторинг зависимостей (topologymetrics).
	// Сбой инициализации не фатален: сервис работает без графа
	// зависимостей, метрики приложения остаются доступны.
	pgURL := fmt.Sprintf("postgres://%s:%d/%s",
		cfg.DBHost, cfg.DBPort, url.PathEscape(cfg.DBName))
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.DephealthName,
		cfg.DephealthGroup,
		pgDB,
		pgURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("Мониторинг зависимостей не инициализирован",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Мониторинг зависимостей не запущен",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
		}
	}

	// 10. HTTP-слой
	auth := middleware.NewJWTAuth(cfg.JWTSecret, jwtLeeway, logger)
	filesHandler := handlers.NewFilesHandler(ingestSvc, querySvc, downloadSvc, worker)
	maintenanceHandler := handlers.NewMaintenanceHandler(cleanupSvc, querySvc)
	healthHandler := handlers.NewHealthHandler(
		cfg.DataDir,
		database.NewReadinessChecker(pool),
		listCache,
	)

	srv := server.New(cfg, logger, auth, filesHandler, maintenanceHandler, healthHandler)
	// Фоновые задания пакетной загрузки доживают до конца при shutdown
	srv.OnShutdown(worker.Wait)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Filevault остановлен")
}
