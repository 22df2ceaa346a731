// Пакет config — загрузка и валидация конфигурации Filevault
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Filevault.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения блобов
	DataDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Максимальный размер файла для предпросмотра в байтах
	MaxPreviewSize int64
	// Бюджет символов текстового предпросмотра
	PreviewTextChars int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL страницы листинга в кэше
	ListCacheTTL time.Duration
	// TTL списка типов файлов в кэше
	TypesCacheTTL time.Duration

	// Секрет для проверки подписи JWT (HMAC)
	JWTSecret string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (FV_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds (по умолчанию 30s).
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// FV_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("FV_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FV_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("FV_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// FV_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("FV_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// FV_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MB)
	maxFileSize, err := getEnvInt64("FV_MAX_FILE_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("FV_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("FV_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// FV_MAX_PREVIEW_SIZE — лимит предпросмотра (по умолчанию 10 MB)
	cfg.MaxPreviewSize, err = getEnvInt64("FV_MAX_PREVIEW_SIZE", 10485760)
	if err != nil {
		return nil, fmt.Errorf("FV_MAX_PREVIEW_SIZE: %w", err)
	}
	if cfg.MaxPreviewSize <= 0 || cfg.MaxPreviewSize > cfg.MaxFileSize {
		return nil, fmt.Errorf("FV_MAX_PREVIEW_SIZE: значение %d должно быть в диапазоне 1..FV_MAX_FILE_SIZE (%d)",
			cfg.MaxPreviewSize, cfg.MaxFileSize)
	}

	// FV_PREVIEW_TEXT_CHARS — бюджет символов текстового предпросмотра (по умолчанию 50000)
	cfg.PreviewTextChars, err = getEnvInt("FV_PREVIEW_TEXT_CHARS", 50000)
	if err != nil {
		return nil, fmt.Errorf("FV_PREVIEW_TEXT_CHARS: %w", err)
	}
	if cfg.PreviewTextChars <= 0 {
		return nil, fmt.Errorf("FV_PREVIEW_TEXT_CHARS: значение должно быть положительным")
	}

	// FV_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("FV_DB_HOST")
	if err != nil {
		return nil, err
	}

	// FV_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("FV_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FV_DB_PORT: %w", err)
	}

	// FV_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("FV_DB_USER")
	if err != nil {
		return nil, err
	}

	// FV_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("FV_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// FV_DB_NAME — имя базы данных (по умолчанию filevault)
	cfg.DBName = getEnvDefault("FV_DB_NAME", "filevault")

	// FV_DB_SSLMODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FV_DB_SSLMODE", "disable")

	// FV_REDIS_ADDR — адрес Redis (по умолчанию localhost:6379)
	cfg.RedisAddr = getEnvDefault("FV_REDIS_ADDR", "localhost:6379")

	// FV_REDIS_PASSWORD — пароль Redis (опционально)
	cfg.RedisPassword = getEnvDefault("FV_REDIS_PASSWORD", "")

	// FV_REDIS_DB — номер базы Redis (по умолчанию 0)
	cfg.RedisDB, err = getEnvInt("FV_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("FV_REDIS_DB: %w", err)
	}

	// FV_LIST_CACHE_TTL — TTL страницы листинга (по умолчанию 15m)
	cfg.ListCacheTTL, err = getEnvDuration("FV_LIST_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FV_LIST_CACHE_TTL: %w", err)
	}

	// FV_TYPES_CACHE_TTL — TTL списка типов файлов (по умолчанию 1h)
	cfg.TypesCacheTTL, err = getEnvDuration("FV_TYPES_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FV_TYPES_CACHE_TTL: %w", err)
	}

	// FV_JWT_SECRET — обязательный
	cfg.JWTSecret, err = getEnvRequired("FV_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// FV_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FV_LOG_LEVEL: %w", err)
	}

	// FV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FV_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FV_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// FV_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "filevault")
	cfg.DephealthGroup = getEnvDefault("FV_DEPHEALTH_GROUP", "filevault")

	// DEPHEALTH_NAME — имя владельца пода для метки name в topologymetrics (без префикса модуля)
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// FV_SHUTDOWN_TIMEOUT — таймаут graceful shutdown HTTP-сервера (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FV_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN собирает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 15m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
