// Package jobs creates, queues and cancels crawl jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// ErrNoConnection is returned when a job names no connection.
var ErrNoConnection = errors.New("job connection is required")

const enqueueTimeout = 5 * time.Second

// ConnectionLoader resolves a connection by name.
type ConnectionLoader interface {
	Load(ctx context.Context, name string) (store.Connection, error)
}

// Canceler stops a job that is currently running.
type Canceler interface {
	Cancel(jobID string) bool
}

// Options wires a Service.
type Options struct {
	Jobs        store.JobStore
	Connections ConnectionLoader
	Queue       crawler.Queue
	Canceler    Canceler
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
	Logger      *zap.Logger
}

// Service is the submission surface shared by the API, the CLI and the
// scheduler.
type Service struct {
	opts   Options
	logger *zap.Logger
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Jobs == nil || opts.Connections == nil || opts.Queue == nil {
		return nil, errors.New("jobs: job store, connection loader and queue are required")
	}
	if opts.IDs == nil || opts.Clock == nil {
		return nil, errors.New("jobs: id generator and clock are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{opts: opts, logger: opts.Logger.Named("jobs")}, nil
}

// Submit records a queued job for params and enqueues it. The connection
// must exist. The job starts from the seed version of the last succeeded
// job with the same connection and spec.
func (s *Service) Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	if params.Connection == "" {
		return crawler.Job{}, ErrNoConnection
	}
	if _, err := s.opts.Connections.Load(ctx, params.Connection); err != nil {
		return crawler.Job{}, fmt.Errorf("load connection %q: %w", params.Connection, err)
	}
	seedVersion, err := s.opts.Jobs.LastSeedVersion(ctx, params.Connection, params.Spec.Key())
	if err != nil {
		return crawler.Job{}, fmt.Errorf("look up seed version: %w", err)
	}
	jobID, err := s.opts.IDs.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.opts.Clock.Now()
	job := crawler.Job{
		ID:          jobID,
		Status:      crawler.JobStatusQueued,
		Submitted:   now,
		SeedVersion: seedVersion,
		Parameters:  params,
	}
	if err := s.opts.Jobs.Create(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.opts.Queue.Enqueue(queueCtx, item); err != nil {
		// Leave no queued job behind that nothing will ever run.
		if uerr := s.opts.Jobs.UpdateStatus(context.WithoutCancel(ctx), jobID, crawler.JobStatusFailed,
			"enqueue failed", crawler.JobCounters{}, s.opts.Clock.Now()); uerr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return crawler.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("connection", params.Connection))
	return job, nil
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := s.opts.Jobs.Get(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.Job, error) {
	jobs, err := s.opts.Jobs.List(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel stops a running job or marks a queued one canceled. Finished jobs
// are returned unchanged.
func (s *Service) Cancel(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if s.opts.Canceler != nil && s.opts.Canceler.Cancel(jobID) {
		// The runner writes the final status itself.
		job.Status = crawler.JobStatusCanceled
		return job, nil
	}
	now := s.opts.Clock.Now()
	if err := s.opts.Jobs.UpdateStatus(ctx, jobID, crawler.JobStatusCanceled, "canceled via API", job.Counters, now); err != nil {
		return crawler.Job{}, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	s.logger.Info("job canceled", zap.String("job_id", jobID))
	return s.Get(ctx, jobID)
}
