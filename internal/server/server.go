// Пакет server — HTTP-сервер Filevault: маршрутизация, middleware
// и graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/filevault/internal/api/handlers"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/config"
)

// Server — HTTP-сервер Filevault.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	// onShutdown — хуки, выполняемые после остановки HTTP-сервера
	// (ожидание фоновых заданий, остановка мониторинга)
	onShutdown []func()
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// Health и metrics публичны; всё под /api/v1 требует JWT.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	auth *middleware.JWTAuth,
	files *handlers.FilesHandler,
	maintenance *handlers.MaintenanceHandler,
	health *handlers.HealthHandler,
) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Файловый API — только с валидным JWT
	router.Route("/api/v1/files", func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Post("/", files.Upload)
		r.Get("/", files.List)
		r.Post("/bulk", files.UploadBulk)
		r.Get("/bulk/{job_id}", files.BulkJobStatus)
		r.Post("/delete", maintenance.BulkDelete)
		r.Get("/duplicates", maintenance.Duplicates)
		r.Post("/duplicates/cleanup", maintenance.CleanupDuplicates)
		r.Get("/stats", maintenance.Stats)
		r.Get("/types", maintenance.Types)

		r.Get("/{file_id}", files.Detail)
		r.Patch("/{file_id}", files.UpdateDescription)
		r.Delete("/{file_id}", maintenance.Delete)
		r.Get("/{file_id}/download", files.Download)
		r.Get("/{file_id}/preview", files.Preview)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
		// WriteTimeout щадящий: скачивание больших файлов легально
		// занимает минуты
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// OnShutdown регистрирует хук, выполняемый после остановки HTTP-сервера.
// Используется для ожидания фоновых заданий пакетной загрузки.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// из конфигурации, затем — зарегистрированные хуки.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	for _, fn := range s.onShutdown {
		fn()
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
