package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// setEnvVars устанавливает переменные окружения для теста и возвращает
// функцию очистки. Всегда вызывать defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	// Сохраняем оригинальные значения
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}

	// Устанавливаем новые
	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// clearAllFVEnvVars очищает все переменные окружения FV_* для чистого теста.
func clearAllFVEnvVars(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"FV_PORT", "FV_DATA_DIR", "FV_MAX_FILE_SIZE",
		"FV_MAX_PREVIEW_SIZE", "FV_PREVIEW_TEXT_CHARS",
		"FV_DB_HOST", "FV_DB_PORT", "FV_DB_USER", "FV_DB_PASSWORD",
		"FV_DB_NAME", "FV_DB_SSLMODE",
		"FV_REDIS_ADDR", "FV_REDIS_PASSWORD", "FV_REDIS_DB",
		"FV_LIST_CACHE_TTL", "FV_TYPES_CACHE_TTL",
		"FV_JWT_SECRET", "FV_LOG_LEVEL", "FV_LOG_FORMAT",
		"FV_DEPHEALTH_CHECK_INTERVAL", "FV_DEPHEALTH_GROUP",
		"FV_SHUTDOWN_TIMEOUT", "DEPHEALTH_NAME",
	}
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"FV_DATA_DIR":    "/tmp/filevault-data",
		"FV_DB_HOST":     "localhost",
		"FV_DB_USER":     "filevault",
		"FV_DB_PASSWORD": "secret",
		"FV_JWT_SECRET":  "test-hmac-secret",
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cleanup := clearAllFVEnvVars(t)
	defer cleanup()

	cleanupVars := setEnvVars(t, requiredEnvVars())
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if cfg.MaxFileSize != 104857600 {
		t.Errorf("MaxFileSize: ожидалось 104857600, получено %d", cfg.MaxFileSize)
	}
	if cfg.MaxPreviewSize != 10485760 {
		t.Errorf("MaxPreviewSize: ожидалось 10485760, получено %d", cfg.MaxPreviewSize)
	}
	if cfg.PreviewTextChars != 50000 {
		t.Errorf("PreviewTextChars: ожидалось 50000, получено %d", cfg.PreviewTextChars)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort: ожидалось 5432, получено %d", cfg.DBPort)
	}
	if cfg.DBName != "filevault" {
		t.Errorf("DBName: ожидалось 'filevault', получено %q", cfg.DBName)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode: ожидалось 'disable', получено %q", cfg.DBSSLMode)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr: ожидалось 'localhost:6379', получено %q", cfg.RedisAddr)
	}
	if cfg.RedisDB != 0 {
		t.Errorf("RedisDB: ожидалось 0, получено %d", cfg.RedisDB)
	}
	if cfg.ListCacheTTL != 15*time.Minute {
		t.Errorf("ListCacheTTL: ожидалось 15m, получено %v", cfg.ListCacheTTL)
	}
	if cfg.TypesCacheTTL != time.Hour {
		t.Errorf("TypesCacheTTL: ожидалось 1h, получено %v", cfg.TypesCacheTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось 'json', получено %q", cfg.LogFormat)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval: ожидалось 15s, получено %v", cfg.DephealthCheckInterval)
	}
	if cfg.DephealthGroup != "filevault" {
		t.Errorf("DephealthGroup: ожидалось 'filevault', получено %q", cfg.DephealthGroup)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 5s, получено %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_AllCustomValues(t *testing.T) {
	cleanup := clearAllFVEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["FV_PORT"] = "9090"
	vars["FV_MAX_FILE_SIZE"] = "52428800"
	vars["FV_MAX_PREVIEW_SIZE"] = "5242880"
	vars["FV_PREVIEW_TEXT_CHARS"] = "10000"
	vars["FV_DB_PORT"] = "5433"
	vars["FV_DB_NAME"] = "fvtest"
	vars["FV_DB_SSLMODE"] = "require"
	vars["FV_REDIS_ADDR"] = "redis:6380"
	vars["FV_REDIS_DB"] = "2"
	vars["FV_LIST_CACHE_TTL"] = "5m"
	vars["FV_TYPES_CACHE_TTL"] = "30m"
	vars["FV_LOG_LEVEL"] = "debug"
	vars["FV_LOG_FORMAT"] = "text"
	vars["FV_DEPHEALTH_CHECK_INTERVAL"] = "5s"
	vars["FV_SHUTDOWN_TIMEOUT"] = "10s"

	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port: ожидалось 9090, получено %d", cfg.Port)
	}
	if cfg.MaxFileSize != 52428800 {
		t.Errorf("MaxFileSize: ожидалось 52428800, получено %d", cfg.MaxFileSize)
	}
	if cfg.MaxPreviewSize != 5242880 {
		t.Errorf("MaxPreviewSize: ожидалось 5242880, получено %d", cfg.MaxPreviewSize)
	}
	if cfg.PreviewTextChars != 10000 {
		t.Errorf("PreviewTextChars: ожидалось 10000, получено %d", cfg.PreviewTextChars)
	}
	if cfg.DBPort != 5433 {
		t.Errorf("DBPort: ожидалось 5433, получено %d", cfg.DBPort)
	}
	if cfg.DBName != "fvtest" {
		t.Errorf("DBName: ожидалось 'fvtest', получено %q", cfg.DBName)
	}
	if cfg.DBSSLMode != "require" {
		t.Errorf("DBSSLMode: ожидалось 'require', получено %q", cfg.DBSSLMode)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("RedisAddr: ожидалось 'redis:6380', получено %q", cfg.RedisAddr)
	}
	if cfg.RedisDB != 2 {
		t.Errorf("RedisDB: ожидалось 2, получено %d", cfg.RedisDB)
	}
	if cfg.ListCacheTTL != 5*time.Minute {
		t.Errorf("ListCacheTTL: ожидалось 5m, получено %v", cfg.ListCacheTTL)
	}
	if cfg.TypesCacheTTL != 30*time.Minute {
		t.Errorf("TypesCacheTTL: ожидалось 30m, получено %v", cfg.TypesCacheTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: ожидалось DEBUG, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat: ожидалось 'text', получено %q", cfg.LogFormat)
	}
	if cfg.DephealthCheckInterval != 5*time.Second {
		t.Errorf("DephealthCheckInterval: ожидалось 5s, получено %v", cfg.DephealthCheckInterval)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 10s, получено %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequiredVars(t *testing.T) {
	requiredKeys := []string{
		"FV_DATA_DIR", "FV_DB_HOST", "FV_DB_USER",
		"FV_DB_PASSWORD", "FV_JWT_SECRET",
	}

	for _, missing := range requiredKeys {
		t.Run(missing, func(t *testing.T) {
			cleanup := clearAllFVEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			delete(vars, missing)
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ноль", "0"},
		{"отрицательный", "-1"},
		{"выше диапазона", "70000"},
		{"не число", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllFVEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["FV_PORT"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для FV_PORT=%s", tt.value)
			}
		})
	}
}

func TestLoad_InvalidMaxFileSize(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"не число", "abc"},
		{"нулевое", "0"},
		{"отрицательное", "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllFVEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["FV_MAX_FILE_SIZE"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для FV_MAX_FILE_SIZE=%s", tt.value)
			}
		})
	}
}

// TestLoad_PreviewSizeAboveFileSize проверяет, что лимит предпросмотра
// не может превышать максимальный размер файла.
func TestLoad_PreviewSizeAboveFileSize(t *testing.T) {
	cleanup := clearAllFVEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["FV_MAX_FILE_SIZE"] = "1048576"
	vars["FV_MAX_PREVIEW_SIZE"] = "10485760"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка: FV_MAX_PREVIEW_SIZE больше FV_MAX_FILE_SIZE")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	durationVars := []string{
		"FV_LIST_CACHE_TTL", "FV_TYPES_CACHE_TTL",
		"FV_DEPHEALTH_CHECK_INTERVAL", "FV_SHUTDOWN_TIMEOUT",
	}

	for _, varName := range durationVars {
		t.Run(varName, func(t *testing.T) {
			cleanup := clearAllFVEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars[varName] = "not-a-duration"
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для невалидного %s", varName)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	cleanup := clearAllFVEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["FV_LOG_LEVEL"] = "invalid"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для невалидного FV_LOG_LEVEL")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	cleanup := clearAllFVEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["FV_LOG_FORMAT"] = "yaml"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для невалидного FV_LOG_FORMAT")
	}
}

func TestLoad_ValidLogLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cleanup := clearAllFVEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["FV_LOG_LEVEL"] = tt.input
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			cfg, err := Load()
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if cfg.LogLevel != tt.expected {
				t.Errorf("LogLevel: ожидалось %v, получено %v", tt.expected, cfg.LogLevel)
			}
		})
	}
}

// TestDatabaseDSN проверяет сборку DSN из параметров подключения.
func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5433,
		DBUser:     "fv",
		DBPassword: "pw",
		DBName:     "filevault",
		DBSSLMode:  "require",
	}

	dsn := cfg.DatabaseDSN()
	for _, part := range []string{
		"host=db.example.com", "port=5433", "user=fv",
		"password=pw", "dbname=filevault", "sslmode=require",
	} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN %q не содержит %q", dsn, part)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: tt.format,
			}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Fatal("SetupLogger вернул nil")
			}
		})
	}
}
