// worker.go — фоновая обработка больших батчей загрузки.
//
// Спулинг входных потоков выполняется синхронно в запросе (потоки
// живут только пока жив запрос), сама загрузка — в отдельной
// горутине в best-effort режиме. Клиент получает id задания и
// опрашивает статус. Выполнение — не более одного раза на submit,
// порядок независимых заданий не гарантируется.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var batchJobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fv_batch_jobs_total",
		Help: "Общее количество фоновых заданий пакетной загрузки по исходам.",
	},
	[]string{"outcome"}, // created, partial, rejected, failed
)

// Статусы фонового задания.
const (
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// jobTimeout — предельное время обработки одного задания.
const jobTimeout = 10 * time.Minute

// jobRetention — сколько хранится завершённое задание до зачистки.
const jobRetention = time.Hour

// BatchJob — снимок состояния фонового задания.
type BatchJob struct {
	ID          string
	Owner       string
	Status      string
	Result      *BatchResult
	Error       string
	SubmittedAt time.Time
	FinishedAt  *time.Time
}

// BatchWorker — диспетчер фоновых заданий пакетной загрузки.
type BatchWorker struct {
	ingest *IngestService
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*BatchJob
	wg   sync.WaitGroup
}

// NewBatchWorker создаёт диспетчер фоновых заданий.
func NewBatchWorker(ingest *IngestService, logger *slog.Logger) *BatchWorker {
	return &BatchWorker{
		ingest: ingest,
		logger: logger.With(slog.String("component", "batch_worker")),
		jobs:   make(map[string]*BatchJob),
	}
}

// Submit спулит файлы батча и запускает фоновую обработку.
// Возвращает id задания. Отказы валидации/спулинга не прерывают
// submit — они попадут в итоговые buckets (partial-семантика).
func (w *BatchWorker) Submit(owner string, files []BatchFile) string {
	prepared, failures := w.ingest.SpoolBatch(files)

	job := &BatchJob{
		ID:          uuid.New().String(),
		Owner:       owner,
		Status:      JobStatusRunning,
		SubmittedAt: time.Now().UTC(),
	}

	w.mu.Lock()
	w.jobs[job.ID] = job
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		result, err := w.ingest.IngestPrepared(ctx, owner, prepared, failures, false)

		now := time.Now().UTC()
		w.mu.Lock()
		job.FinishedAt = &now
		if err != nil {
			job.Status = JobStatusFailed
			job.Error = err.Error()
			batchJobsTotal.WithLabelValues("failed").Inc()
		} else {
			job.Status = JobStatusDone
			job.Result = result
			batchJobsTotal.WithLabelValues(result.Status).Inc()
		}
		w.mu.Unlock()

		if err != nil {
			w.logger.Error("Фоновое задание завершилось ошибкой",
				slog.String("job_id", job.ID),
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		} else {
			w.logger.Info("Фоновое задание завершено",
				slog.String("job_id", job.ID),
				slog.String("owner", owner),
				slog.String("status", result.Status),
				slog.Int("created", len(result.Created)),
				slog.Int("failed", len(result.Failed)),
			)
		}

		w.reap()
	}()

	return job.ID
}

// JobStatus возвращает снимок задания владельца.
// Задания других владельцев невидимы.
func (w *BatchWorker) JobStatus(owner, jobID string) (*BatchJob, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	job, ok := w.jobs[jobID]
	if !ok || job.Owner != owner {
		return nil, false
	}

	// Копия: вызывающий код не должен видеть последующие мутации
	snapshot := *job
	return &snapshot, true
}

// Wait блокирует до завершения всех запущенных заданий.
// Используется при graceful shutdown.
func (w *BatchWorker) Wait() {
	w.wg.Wait()
}

// reap удаляет задания, завершённые дольше jobRetention назад.
func (w *BatchWorker) reap() {
	cutoff := time.Now().UTC().Add(-jobRetention)

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, job := range w.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(w.jobs, id)
		}
	}
}
