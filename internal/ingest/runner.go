// Package ingest runs crawl jobs: it seeds a connector, drains the document
// queue in batches and records what was indexed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/metrics"
	"github.com/JakeFAU/lcf-connectors/internal/progress"
	"github.com/JakeFAU/lcf-connectors/internal/store"
	"github.com/JakeFAU/lcf-connectors/internal/telemetry"
)

// Event names passed to the publisher.
const (
	EventIngested = "document.ingested"
	EventDeleted  = "document.deleted"
)

// ConnectionLoader resolves a connection by name.
type ConnectionLoader interface {
	Load(ctx context.Context, name string) (store.Connection, error)
}

// Throttle paces fetches per connection and bin.
type Throttle interface {
	Reconfigure(connection string, specs []store.ThrottleSpec) error
	Wait(ctx context.Context, connection, bin string) error
}

// Config controls Runner behavior.
type Config struct {
	// BlobPrefix is prepended to every content path.
	BlobPrefix string
	// BatchParallelism bounds the batches processed at once. Each parallel
	// batch gets its own connector instance.
	BatchParallelism int
	// MaxBatchRetries bounds retries of one batch after service
	// interruptions that carry no FailCount of their own.
	MaxBatchRetries int
}

// Options wires a Runner.
type Options struct {
	Connections ConnectionLoader
	Registry    *crawler.Registry
	Jobs        store.JobStore
	Versions    store.VersionStore
	Blobs       crawler.BlobStore
	Publisher   crawler.Publisher
	Hasher      crawler.Hasher
	Throttle    Throttle
	Progress    progress.Emitter
	Clock       crawler.Clock
	Logger      *zap.Logger
	Config      Config
}

// Runner executes jobs. It is safe for concurrent use by several workers.
type Runner struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}

// NewRunner validates opts and builds a Runner.
func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Connections == nil:
		return nil, errors.New("ingest: connection loader is required")
	case opts.Registry == nil:
		return nil, errors.New("ingest: connector registry is required")
	case opts.Jobs == nil:
		return nil, errors.New("ingest: job store is required")
	case opts.Versions == nil:
		return nil, errors.New("ingest: version store is required")
	case opts.Blobs == nil:
		return nil, errors.New("ingest: blob store is required")
	case opts.Hasher == nil:
		return nil, errors.New("ingest: hasher is required")
	case opts.Clock == nil:
		return nil, errors.New("ingest: clock is required")
	}
	if opts.Progress == nil {
		opts.Progress = nopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config.BatchParallelism <= 0 {
		opts.Config.BatchParallelism = 1
	}
	if opts.Config.MaxBatchRetries <= 0 {
		opts.Config.MaxBatchRetries = 10
	}
	return &Runner{
		opts:    opts,
		logger:  opts.Logger.Named("ingest"),
		running: make(map[string]context.CancelFunc),
	}, nil
}

// Cancel stops a running job. It reports whether the job was running here.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) track(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.running[jobID] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.running, jobID)
		r.mu.Unlock()
		cancel()
	}
}

// Run executes one job to completion and records its final status. The
// returned error is the reason the job did not succeed.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.opts.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		r.logger.Info("skipping finished job", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil
	}

	jobCtx, done := r.track(ctx, jobID)
	defer done()
	jobCtx, span := telemetry.Tracer().Start(jobCtx, "ingest.job")
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.connection", job.Parameters.Connection),
	)
	defer span.End()

	started := r.opts.Clock.Now()
	logger := r.logger.With(zap.String("job_id", jobID), zap.String("connection", job.Parameters.Connection))
	if err := r.opts.Jobs.UpdateStatus(ctx, jobID, crawler.JobStatusRunning, "", job.Counters, started); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	r.opts.Progress.Emit(progress.Event{
		JobID:      jobID,
		Connection: job.Parameters.Connection,
		TS:         started.UTC(),
		Stage:      progress.StageJobStart,
	})
	logger.Info("job started")

	state := newJobState(job)
	runErr := r.execute(jobCtx, job, state, logger)

	status, errText := finalStatus(jobCtx, runErr)
	counters := state.snapshot()
	// The job context may already be canceled; the final write must land.
	finishCtx := context.WithoutCancel(ctx)
	finished := r.opts.Clock.Now()
	if err := r.opts.Jobs.UpdateStatus(finishCtx, jobID, status, errText, counters, finished); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))

	stage := progress.StageJobDone
	if status != crawler.JobStatusSucceeded {
		stage = progress.StageJobError
		span.SetStatus(codes.Error, errText)
	}
	r.opts.Progress.Emit(progress.Event{
		JobID:      jobID,
		Connection: job.Parameters.Connection,
		TS:         finished.UTC(),
		Stage:      stage,
		Dur:        finished.Sub(started),
		Note:       errText,
	})
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("ingested", counters.DocumentsIngested),
		zap.Int("deleted", counters.DocumentsDeleted),
		zap.Duration("duration", finished.Sub(started)))
	if status == crawler.JobStatusSucceeded {
		return nil
	}
	return runErr
}

func finalStatus(ctx context.Context, err error) (crawler.JobStatus, string) {
	switch {
	case err == nil:
		return crawler.JobStatusSucceeded, ""
	case errors.Is(err, crawler.ErrJobStopped) || ctx.Err() != nil:
		return crawler.JobStatusCanceled, err.Error()
	default:
		return crawler.JobStatusFailed, err.Error()
	}
}

func (r *Runner) execute(ctx context.Context, job crawler.Job, state *jobState, logger *zap.Logger) error {
	conn, err := r.opts.Connections.Load(ctx, job.Parameters.Connection)
	if err != nil {
		return fmt.Errorf("load connection %q: %w", job.Parameters.Connection, err)
	}
	if r.opts.Throttle != nil {
		if err := r.opts.Throttle.Reconfigure(conn.Name, conn.Throttles); err != nil {
			return fmt.Errorf("configure throttles: %w", err)
		}
	}

	pool, err := r.connectors(conn, r.opts.Config.BatchParallelism)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range pool {
			if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("disconnect failed", zap.Error(err))
			}
		}
	}()

	acts := &jobActivities{
		runner: r,
		job:    job,
		conn:   conn,
		state:  state,
		logger: logger,
	}
	if err := r.seed(ctx, pool[0], acts, job); err != nil {
		return err
	}
	if err := r.drain(ctx, pool, acts, job); err != nil {
		return err
	}
	if !fullScan(job, pool[0]) {
		return nil
	}
	if state.incomplete() {
		logger.Info("batches were skipped; keeping unreached documents")
		return nil
	}
	return r.purgeUnreached(ctx, acts)
}

// fullScan reports whether a run reaches every live document, so anything
// it does not reach was removed from the repository.
func fullScan(job crawler.Job, c crawler.Connector) bool {
	if job.Parameters.Mode != crawler.JobModeOnce {
		return false
	}
	return crawler.ModelOf(c) == crawler.ModelAll || job.SeedVersion == ""
}

// purgeUnreached deletes documents indexed by earlier runs that this run
// never reached.
func (r *Runner) purgeUnreached(ctx context.Context, acts *jobActivities) error {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.purge")
	defer span.End()

	known, err := r.opts.Versions.List(ctx, acts.conn.Name)
	if err != nil {
		return fmt.Errorf("list indexed documents: %w", err)
	}
	var orphans []string
	for id := range known {
		if !acts.state.queued.Contains(id) {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	for _, id := range orphans {
		if err := acts.CheckJobStillActive(ctx); err != nil {
			return err
		}
		if err := acts.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("purge %s: %w", id, err)
		}
	}
	if len(orphans) > 0 {
		acts.logger.Info("purged unreached documents", zap.Int("count", len(orphans)))
	}
	return nil
}

// connectors builds n connected instances of the connection's connector.
func (r *Runner) connectors(conn store.Connection, n int) ([]crawler.Connector, error) {
	pool := make([]crawler.Connector, 0, n)
	for i := 0; i < n; i++ {
		c, err := r.opts.Registry.New(conn.ClassName)
		if err != nil {
			return nil, fmt.Errorf("instantiate connector: %w", err)
		}
		if err := c.Connect(conn.Config); err != nil {
			return nil, fmt.Errorf("connect %q: %w", conn.Name, err)
		}
		pool = append(pool, c)
	}
	return pool, nil
}

func (r *Runner) seed(ctx context.Context, c crawler.Connector, acts *jobActivities, job crawler.Job) error {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.seed")
	defer span.End()

	var version string
	err := r.withRetries(ctx, acts, func(ctx context.Context) error {
		var err error
		version, err = c.AddSeedDocuments(ctx, acts, job.Parameters.Spec, job.SeedVersion, r.opts.Clock.Now(), job.Parameters.Mode)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("seed documents: %w", err)
	}
	if err := r.opts.Jobs.UpdateSeedVersion(ctx, job.ID, version); err != nil {
		return fmt.Errorf("save seed version: %w", err)
	}
	return nil
}

// drain processes queued documents round by round. References discovered
// in one round are processed in the next.
func (r *Runner) drain(ctx context.Context, pool []crawler.Connector, acts *jobActivities, job crawler.Job) error {
	free := make(chan crawler.Connector, len(pool))
	for _, c := range pool {
		free <- c
	}
	for {
		pending := acts.state.takePending()
		if len(pending) == 0 {
			return nil
		}
		size := pool[0].MaxDocumentRequest()
		if size <= 0 {
			size = 1
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(pool))
		for start := 0; start < len(pending); start += size {
			end := min(start+size, len(pending))
			batch := pending[start:end]
			g.Go(func() error {
				c := <-free
				defer func() { free <- c }()
				return r.processBatch(gctx, c, acts, job, batch)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (r *Runner) processBatch(ctx context.Context, c crawler.Connector, acts *jobActivities, job crawler.Job, ids []string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.batch")
	span.SetAttributes(attribute.Int("batch.size", len(ids)), attribute.String("batch.first", ids[0]))
	defer span.End()

	err := r.withRetries(ctx, acts, func(ctx context.Context) error {
		if r.opts.Throttle != nil {
			for _, bin := range c.BinNames(ids[0]) {
				if err := r.opts.Throttle.Wait(ctx, acts.conn.Name, bin); err != nil {
					return err
				}
			}
		}
		existing, err := acts.existing(ctx, ids)
		if err != nil {
			return err
		}
		return c.ProcessDocuments(ctx, ids, existing, job.Parameters.Spec, acts, job.Parameters.Mode)
	})
	var si *crawler.ServiceInterruption
	if errors.As(err, &si) && !si.AbortOnFail {
		// The window closed; give up on these documents but keep crawling.
		acts.logger.Warn("skipping batch after repeated interruptions",
			zap.Strings("ids", ids), zap.Error(err))
		acts.state.abandon(len(ids))
		return nil
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// withRetries runs fn again after each service interruption until its
// retry window closes.
func (r *Runner) withRetries(ctx context.Context, acts *jobActivities, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		si, ok := crawler.AsServiceInterruption(err)
		if !ok {
			return err
		}
		now := r.opts.Clock.Now()
		limit := r.opts.Config.MaxBatchRetries
		if si.FailCount > 0 {
			limit = si.FailCount
		}
		if si.Expired(now) || attempt >= limit {
			return err
		}
		acts.state.retry()
		wait := si.RetryAt.Sub(now)
		acts.logger.Info("service interruption, retrying",
			zap.String("reason", si.Message),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// jobState is the queue and counters of one job run.
type jobState struct {
	queued mapset.Set[string]

	mu       sync.Mutex
	pending  []string
	counters crawler.JobCounters
	// abandoned counts batches given up after their retry window closed.
	abandoned int
}

func newJobState(job crawler.Job) *jobState {
	return &jobState{
		queued:   mapset.NewSet[string](),
		counters: crawler.JobCounters{Retries: job.Counters.Retries},
	}
}

// enqueue adds id unless it was queued before in this run.
func (s *jobState) enqueue(id string) bool {
	if !s.queued.Add(id) {
		return false
	}
	s.mu.Lock()
	s.pending = append(s.pending, id)
	s.mu.Unlock()
	return true
}

func (s *jobState) takePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *jobState) update(fn func(*crawler.JobCounters)) {
	s.mu.Lock()
	fn(&s.counters)
	s.mu.Unlock()
}

// abandon records a batch of n documents given up on.
func (s *jobState) abandon(n int) {
	s.mu.Lock()
	s.abandoned++
	s.counters.DocumentsSkipped += n
	s.mu.Unlock()
}

func (s *jobState) incomplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned > 0
}

func (s *jobState) retry() {
	s.update(func(c *crawler.JobCounters) { c.Retries++ })
}

func (s *jobState) snapshot() crawler.JobCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
