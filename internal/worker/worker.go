// Package worker implements the job execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/metrics"
)

// JobRunner executes a single job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Worker consumes queue items and hands each job to the runner.
type Worker struct {
	queue  crawler.Queue
	runner JobRunner
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, runner JobRunner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	if w.runner == nil {
		w.logger.Error("no job runner configured", zap.String("job_id", item.JobID))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	err := w.runner.Run(ctx, item.JobID)
	switch {
	case err == nil:
		w.logger.Debug("job processed", zap.String("job_id", item.JobID))
	case errors.Is(err, crawler.ErrJobStopped) || ctx.Err() != nil:
		w.logger.Info("job stopped", zap.String("job_id", item.JobID), zap.Error(err))
	default:
		w.logger.Error("job failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}
