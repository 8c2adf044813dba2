// Package scheduler runs the periodic work of the service on cron
// schedules: history retention and recurring crawls.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// HistoryCleaner drops history rows older than a cutoff.
type HistoryCleaner interface {
	CleanUpHistoryData(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobSubmitter creates jobs and reports on them.
type JobSubmitter interface {
	Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
	Get(ctx context.Context, jobID string) (crawler.Job, error)
}

// Crawl is one recurring crawl.
type Crawl struct {
	Name       string
	Schedule   string
	Connection string
	Spec       crawler.DocumentSpec
}

// Options wires a Scheduler.
type Options struct {
	History         HistoryCleaner
	Retention       time.Duration
	CleanupSchedule string
	Jobs            JobSubmitter
	Crawls          []Crawl
	Clock           crawler.Clock
	Logger          *zap.Logger
}

// Scheduler owns the cron runner and the named tasks registered on it.
type Scheduler struct {
	cron    *cron.Cron
	clock   crawler.Clock
	logger  *zap.Logger
	tasks   map[string]func(context.Context) error
	running mapset.Set[string]

	mu      sync.Mutex
	lastJob map[string]string
	ctx     context.Context
	cancel  context.CancelFunc
}

const cleanupTask = "history-cleanup"

// New registers the retention task (when Retention > 0) and one task per
// recurring crawl.
func New(opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		return nil, errors.New("scheduler: clock is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(),
		clock:   opts.Clock,
		logger:  opts.Logger.Named("scheduler"),
		tasks:   make(map[string]func(context.Context) error),
		running: mapset.NewSet[string](),
		lastJob: make(map[string]string),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if opts.Retention > 0 {
		if opts.History == nil {
			return nil, errors.New("scheduler: history cleaner is required for retention")
		}
		if err := s.add(cleanupTask, opts.CleanupSchedule, func(ctx context.Context) error {
			cutoff := s.clock.Now().Add(-opts.Retention)
			n, err := opts.History.CleanUpHistoryData(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("clean up history: %w", err)
			}
			s.logger.Info("history cleaned up", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
			return nil
		}); err != nil {
			return nil, err
		}
	}

	for _, c := range opts.Crawls {
		if opts.Jobs == nil {
			return nil, errors.New("scheduler: job submitter is required for recurring crawls")
		}
		if err := s.add("crawl:"+c.Name, c.Schedule, s.crawlTask(opts.Jobs, c)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, schedule string, fn func(context.Context) error) error {
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("scheduler: duplicate task %q", name)
	}
	s.tasks[name] = fn
	if err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(name); err != nil {
			s.logger.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, schedule, err)
	}
	return nil
}

// crawlTask submits a job for c unless the job it submitted last time is
// still queued or running.
func (s *Scheduler) crawlTask(jobs JobSubmitter, c Crawl) func(context.Context) error {
	return func(ctx context.Context) error {
		s.mu.Lock()
		last := s.lastJob[c.Name]
		s.mu.Unlock()
		if last != "" {
			job, err := jobs.Get(ctx, last)
			if err == nil && !job.Status.Terminal() {
				s.logger.Info("previous crawl still active",
					zap.String("crawl", c.Name), zap.String("job_id", last))
				return nil
			}
		}
		job, err := jobs.Submit(ctx, crawler.JobParameters{
			Connection: c.Connection,
			Spec:       c.Spec,
			Mode:       crawler.JobModeOnce,
		})
		if err != nil {
			return fmt.Errorf("submit crawl %s: %w", c.Name, err)
		}
		s.mu.Lock()
		s.lastJob[c.Name] = job.ID
		s.mu.Unlock()
		return nil
	}
}

// Tasks returns the registered task names, sorted.
func (s *Scheduler) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a task immediately. A task already in progress is skipped.
func (s *Scheduler) RunNow(name string) error {
	fn, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", name)
	}
	if !s.running.Add(name) {
		s.logger.Warn("task is already running", zap.String("task", name))
		return nil
	}
	defer s.running.Remove(name)
	return fn(s.ctx)
}

// Start begins firing tasks on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Strings("tasks", s.Tasks()))
}

// Stop halts the cron runner and cancels tasks in progress.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.logger.Info("scheduler stopped")
}
