package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/sitegate/internal/metrics"
)

// Worker runs registered maintenance tasks on a fixed interval.
type Worker struct {
	tasks  []Task
	config Config
	logger *slog.Logger

	// Synchronization
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a task. Call this before Start().
func (w *Worker) Register(task Task) {
	w.tasks = append(w.tasks, task)
	w.logger.Debug("Registered task", "task", task.Name())
}

// Start launches one loop per registered task.
func (w *Worker) Start(ctx context.Context) {
	for _, task := range w.tasks {
		w.wg.Add(1)
		go w.runLoop(ctx, task)
	}

	w.logger.Info("Worker started", "tasks", len(w.tasks), "interval", w.config.Interval)
}

// Stop signals all loops to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, a task may still be running")
	}
}

func (w *Worker) runLoop(ctx context.Context, task Task) {
	defer w.wg.Done()

	logger := w.logger.With("task", task.Name())

	if w.config.RunOnStart && !w.runOnce(ctx, task, logger) {
		return
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.runOnce(ctx, task, logger) {
				return
			}
		}
	}
}

// runOnce executes a single pass of task. It returns false when the task
// must not be scheduled again.
func (w *Worker) runOnce(ctx context.Context, task Task, logger *slog.Logger) bool {
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	n, err := task.Run(taskCtx)
	if err != nil {
		metrics.TaskFailed(task.Name())
		if IsPermanent(err) {
			logger.Error("Task failed permanently, unscheduling", "error", err)
			return false
		}
		logger.Error("Task failed", "error", err)
		return true
	}

	elapsed := time.Since(start)
	metrics.TaskCompleted(task.Name(), elapsed, n)
	logger.Info("Task completed", "items", n, "duration_ms", elapsed.Milliseconds())
	return true
}
