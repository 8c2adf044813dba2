package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/hash/sha256"
	"github.com/JakeFAU/lcf-connectors/internal/progress"
	pubmemory "github.com/JakeFAU/lcf-connectors/internal/publisher/memory"
	"github.com/JakeFAU/lcf-connectors/internal/storage/memory"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return testNow }

type fakeConnections map[string]store.Connection

func (f fakeConnections) Load(_ context.Context, name string) (store.Connection, error) {
	conn, ok := f[name]
	if !ok {
		return store.Connection{}, store.ErrNotFound
	}
	return conn, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Stage
	for _, evt := range e.events {
		if evt.Stage == progress.StageJobStart || evt.Stage == progress.StageJobDone || evt.Stage == progress.StageJobError {
			out = append(out, evt.Stage)
		}
	}
	return out
}

type fakeThrottle struct {
	mu    sync.Mutex
	bins  []string
	specs []store.ThrottleSpec
}

func (f *fakeThrottle) Reconfigure(_ string, specs []store.ThrottleSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = specs
	return nil
}

func (f *fakeThrottle) Wait(_ context.Context, _, bin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bins = append(f.bins, bin)
	return nil
}

// script drives every fakeConnector instance built for one test.
type script struct {
	mu sync.Mutex

	seeds    []string
	children map[string][]string
	versions map[string]string
	content  map[string]string
	// interrupt is returned by the next ProcessDocuments calls.
	interrupt []error
	// block makes ProcessDocuments wait for cancellation.
	block   chan struct{}
	batches [][]string
	model   crawler.Model
	// lastSeeds records the seed version each run started from.
	lastSeeds []string
}

func (s *script) nextInterrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.interrupt) == 0 {
		return nil
	}
	err := s.interrupt[0]
	s.interrupt = s.interrupt[1:]
	return err
}

type fakeConnector struct {
	s *script
}

func (c *fakeConnector) Connect(crawler.ConfigParams) error { return nil }

func (c *fakeConnector) Check(context.Context) (string, error) { return "Connection working", nil }

func (c *fakeConnector) Poll(context.Context) error { return nil }

func (c *fakeConnector) Disconnect(context.Context) error { return nil }

func (c *fakeConnector) BinNames(string) []string { return []string{"repo.example.com"} }

func (c *fakeConnector) Activities() []string { return []string{"fetch"} }

func (c *fakeConnector) MaxDocumentRequest() int { return 10 }

func (c *fakeConnector) Model() crawler.Model { return c.s.model }

func (c *fakeConnector) AddSeedDocuments(
	ctx context.Context,
	acts crawler.SeedActivities,
	_ crawler.DocumentSpec,
	lastSeedVersion string,
	_ time.Time,
	_ crawler.JobMode,
) (string, error) {
	c.s.mu.Lock()
	c.s.lastSeeds = append(c.s.lastSeeds, lastSeedVersion)
	c.s.mu.Unlock()
	for _, id := range c.s.seeds {
		if err := acts.AddSeedDocument(ctx, id); err != nil {
			return "", err
		}
	}
	return "seed-1", nil
}

func (c *fakeConnector) ProcessDocuments(
	ctx context.Context,
	ids []string,
	_ crawler.ExistingVersions,
	_ crawler.DocumentSpec,
	acts crawler.ProcessActivities,
	_ crawler.JobMode,
) error {
	c.s.mu.Lock()
	c.s.batches = append(c.s.batches, append([]string(nil), ids...))
	c.s.mu.Unlock()
	if err := c.s.nextInterrupt(); err != nil {
		return err
	}
	if c.s.block != nil {
		close(c.s.block)
		<-ctx.Done()
		return acts.CheckJobStillActive(ctx)
	}
	for _, id := range ids {
		for _, child := range c.s.children[id] {
			if err := acts.AddDocumentReference(ctx, child); err != nil {
				return err
			}
		}
		if len(c.s.children[id]) > 0 {
			continue
		}
		v, ok := c.s.versions[id]
		if !ok {
			if err := acts.DeleteDocument(ctx, id); err != nil {
				return err
			}
			continue
		}
		changed, err := acts.CheckDocumentNeedsReindexing(ctx, id, v)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		doc := crawler.NewRepositoryDocument()
		doc.AddField("title", id)
		doc.SetBinary(strings.NewReader(c.s.content[id]), int64(len(c.s.content[id])))
		if err := acts.IngestDocument(ctx, id, v, "http://repo.example.com/"+id, doc); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	runner    *Runner
	jobs      *memory.JobStore
	versions  *memory.VersionStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	events    *recordingEmitter
	throttle  *fakeThrottle
}

func newHarness(t *testing.T, s *script, cfg Config) *harness {
	t.Helper()
	reg := crawler.NewRegistry()
	require.NoError(t, reg.Register("fake", func() crawler.Connector { return &fakeConnector{s: s} }))
	h := &harness{
		jobs:      memory.NewJobStore(),
		versions:  memory.NewVersionStore(),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		events:    &recordingEmitter{},
		throttle:  &fakeThrottle{},
	}
	runner, err := NewRunner(Options{
		Connections: fakeConnections{
			"docs":   {Name: "docs", ClassName: "fake", Throttles: []store.ThrottleSpec{{Match: ".*", Rate: 60}}},
			"broken": {Name: "broken", ClassName: "missing"},
		},
		Registry:  reg,
		Jobs:      h.jobs,
		Versions:  h.versions,
		Blobs:     h.blobs,
		Publisher: h.publisher,
		Hasher:    sha256.New(),
		Throttle:  h.throttle,
		Progress:  h.events,
		Clock:     fakeClock{},
		Config:    cfg,
	})
	require.NoError(t, err)
	h.runner = runner
	return h
}

func (h *harness) submit(t *testing.T, id, connection string) {
	t.Helper()
	require.NoError(t, h.jobs.Create(context.Background(), crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  testNow,
		Parameters: crawler.JobParameters{Connection: connection},
	}))
}

func (h *harness) job(t *testing.T, id string) crawler.Job {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func crawlScript() *script {
	return &script{
		seeds:    []string{"F1"},
		children: map[string][]string{"F1": {"D2", "D3", "F1"}},
		versions: map[string]string{"D2": "v2"},
		content:  map[string]string{"D2": "hello"},
	}
}

func TestRunIngestsAndDeletes(t *testing.T) {
	t.Parallel()
	s := crawlScript()
	h := newHarness(t, s, Config{BlobPrefix: "/crawls/"})
	h.submit(t, "job-1", "docs")

	require.NoError(t, h.runner.Run(context.Background(), "job-1"))

	job := h.job(t, "job-1")
	assert.Equal(t, crawler.JobStatusSucceeded, job.Status)
	assert.Equal(t, "seed-1", job.SeedVersion)
	assert.Equal(t, crawler.JobCounters{DocumentsSeeded: 1, DocumentsIngested: 1, DocumentsDeleted: 1}, job.Counters)
	// F1 refers to itself; it is processed once.
	assert.Equal(t, [][]string{{"F1"}, {"D2", "D3"}}, s.batches)

	hash, err := sha256.New().Hash([]byte("D2"))
	require.NoError(t, err)
	obj, ok := h.blobs.Get("crawls/docs/" + hash)
	require.True(t, ok)
	assert.Equal(t, "hello", string(obj.Data))
	assert.Equal(t, "text/plain; charset=utf-8", obj.ContentType)

	v, err := h.versions.Get(context.Background(), "docs", "D2")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, EventIngested, msgs[0].Topic)
	ingested, ok := msgs[0].Payload.(crawler.IngestedDocument)
	require.True(t, ok)
	assert.Equal(t, "D2", ingested.DocumentID)
	assert.Equal(t, int64(5), ingested.Size)
	assert.Equal(t, []string{"D2"}, ingested.Fields["title"])
	assert.Equal(t, EventDeleted, msgs[1].Topic)

	assert.Equal(t, []progress.Stage{progress.StageJobStart, progress.StageJobDone}, h.events.stages())
	assert.Equal(t, []string{"repo.example.com", "repo.example.com"}, h.throttle.bins)
	assert.Len(t, h.throttle.specs, 1)
}

func TestRunSkipsUnchangedDocuments(t *testing.T) {
	t.Parallel()
	s := crawlScript()
	h := newHarness(t, s, Config{})
	h.submit(t, "job-1", "docs")
	h.submit(t, "job-2", "docs")

	require.NoError(t, h.runner.Run(context.Background(), "job-1"))
	require.NoError(t, h.runner.Run(context.Background(), "job-2"))

	job := h.job(t, "job-2")
	assert.Equal(t, crawler.JobStatusSucceeded, job.Status)
	assert.Equal(t, 0, job.Counters.DocumentsIngested)
	assert.Equal(t, 1, h.blobs.Len())
}

func TestRunPurgesUnreachedDocuments(t *testing.T) {
	t.Parallel()
	expired := crawler.NewServiceInterruption("down", nil, testNow.Add(-2*time.Hour), 0, time.Hour)

	tests := []struct {
		name        string
		model       crawler.Model
		mode        crawler.JobMode
		seedVersion string
		interrupt   []error
		wantPurged  bool
	}{
		{name: "complete run of full model", model: crawler.ModelAll, wantPurged: true},
		{name: "incremental model seeded from scratch", model: crawler.ModelAddChange, wantPurged: true},
		{name: "incremental model resumed from checkpoint", model: crawler.ModelAddChange, seedVersion: "seed-1"},
		{name: "continuous run", model: crawler.ModelAll, mode: crawler.JobModeContinuous},
		{name: "abandoned batch", model: crawler.ModelAll, interrupt: []error{expired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := &script{
				seeds:    []string{"F1"},
				children: map[string][]string{"F1": {"D2", "D3"}},
				versions: map[string]string{"D2": "v2", "D3": "v3"},
				content:  map[string]string{"D2": "two", "D3": "three"},
				model:    tt.model,
			}
			h := newHarness(t, s, Config{})
			h.submit(t, "job-1", "docs")
			require.NoError(t, h.runner.Run(ctx, "job-1"))

			// D3 is removed from the repository before the next crawl.
			s.children["F1"] = []string{"D2"}
			s.interrupt = tt.interrupt
			require.NoError(t, h.jobs.Create(ctx, crawler.Job{
				ID:          "job-2",
				Status:      crawler.JobStatusQueued,
				Submitted:   testNow,
				SeedVersion: tt.seedVersion,
				Parameters:  crawler.JobParameters{Connection: "docs", Mode: tt.mode},
			}))
			require.NoError(t, h.runner.Run(ctx, "job-2"))

			known, err := h.versions.List(ctx, "docs")
			require.NoError(t, err)
			job := h.job(t, "job-2")
			if !tt.wantPurged {
				assert.Contains(t, known, "D3")
				assert.Zero(t, job.Counters.DocumentsDeleted)
				return
			}
			assert.Equal(t, map[string]string{"D2": "v2"}, known)
			assert.Equal(t, 1, job.Counters.DocumentsDeleted)
			hash, err := sha256.New().Hash([]byte("D3"))
			require.NoError(t, err)
			_, ok := h.blobs.Get("docs/" + hash)
			assert.False(t, ok)

			msgs := h.publisher.Messages()
			last := msgs[len(msgs)-1]
			assert.Equal(t, EventDeleted, last.Topic)
			deleted, ok := last.Payload.(crawler.DeletedDocument)
			require.True(t, ok)
			assert.Equal(t, "D3", deleted.DocumentID)
			assert.Equal(t, "job-2", deleted.JobID)
		})
	}
}

func TestRunPassesSeedVersion(t *testing.T) {
	t.Parallel()
	s := crawlScript()
	h := newHarness(t, s, Config{})
	require.NoError(t, h.jobs.Create(context.Background(), crawler.Job{
		ID:          "job-1",
		Status:      crawler.JobStatusQueued,
		Submitted:   testNow,
		SeedVersion: "1714557600000",
		Parameters:  crawler.JobParameters{Connection: "docs"},
	}))

	require.NoError(t, h.runner.Run(context.Background(), "job-1"))
	assert.Equal(t, []string{"1714557600000"}, s.lastSeeds)
	assert.Equal(t, "seed-1", h.job(t, "job-1").SeedVersion)
}

func TestRunRetriesInterruptions(t *testing.T) {
	t.Parallel()
	soon := crawler.NewServiceInterruption("busy", nil, testNow.Add(-time.Minute), 0, time.Hour)
	expired := crawler.NewServiceInterruption("down", nil, testNow.Add(-2*time.Hour), 0, time.Hour)
	abort := crawler.NewServiceInterruption("gone", nil, testNow.Add(-2*time.Hour), 0, time.Hour)
	abort.AbortOnFail = true

	tests := []struct {
		name        string
		interrupt   []error
		wantStatus  crawler.JobStatus
		wantRetries int
		wantSkipped int
	}{
		{name: "retried then succeeds", interrupt: []error{soon}, wantStatus: crawler.JobStatusSucceeded, wantRetries: 1},
		{name: "window closed skips batch", interrupt: []error{expired}, wantStatus: crawler.JobStatusSucceeded, wantSkipped: 1},
		{name: "abort fails job", interrupt: []error{abort}, wantStatus: crawler.JobStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := crawlScript()
			s.interrupt = tt.interrupt
			h := newHarness(t, s, Config{})
			h.submit(t, "job-1", "docs")

			err := h.runner.Run(context.Background(), "job-1")
			job := h.job(t, "job-1")
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantRetries, job.Counters.Retries)
			assert.Equal(t, tt.wantSkipped, job.Counters.DocumentsSkipped)
			if tt.wantStatus == crawler.JobStatusSucceeded {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, []progress.Stage{progress.StageJobStart, progress.StageJobError}, h.events.stages())
			}
		})
	}
}

func TestRunRetryLimit(t *testing.T) {
	t.Parallel()
	si := crawler.NewServiceInterruption("busy", nil, testNow.Add(-time.Minute), 0, time.Hour)
	s := crawlScript()
	s.interrupt = []error{si, si, si}
	h := newHarness(t, s, Config{MaxBatchRetries: 2})
	h.submit(t, "job-1", "docs")

	require.NoError(t, h.runner.Run(context.Background(), "job-1"))
	job := h.job(t, "job-1")
	assert.Equal(t, 1, job.Counters.Retries)
	assert.Equal(t, 1, job.Counters.DocumentsSkipped)
}

func TestRunCancel(t *testing.T) {
	t.Parallel()
	s := crawlScript()
	s.block = make(chan struct{})
	h := newHarness(t, s, Config{})
	h.submit(t, "job-1", "docs")

	done := make(chan error, 1)
	go func() { done <- h.runner.Run(context.Background(), "job-1") }()
	<-s.block
	assert.True(t, h.runner.Cancel("job-1"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, crawler.ErrJobStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop")
	}
	assert.Equal(t, crawler.JobStatusCanceled, h.job(t, "job-1").Status)
	assert.False(t, h.runner.Cancel("job-1"))
}

func TestRunFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, crawlScript(), Config{})
	h.submit(t, "job-1", "broken")
	h.submit(t, "job-2", "nowhere")

	err := h.runner.Run(context.Background(), "job-1")
	require.ErrorIs(t, err, crawler.ErrConnectorNotRegistered)
	assert.Equal(t, crawler.JobStatusFailed, h.job(t, "job-1").Status)

	err = h.runner.Run(context.Background(), "job-2")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, h.runner.Run(context.Background(), "job-3"), store.ErrNotFound)
}

func TestRunSkipsFinishedJob(t *testing.T) {
	t.Parallel()
	s := crawlScript()
	h := newHarness(t, s, Config{})
	require.NoError(t, h.jobs.Create(context.Background(), crawler.Job{ID: "done", Status: crawler.JobStatusCanceled}))

	require.NoError(t, h.runner.Run(context.Background(), "done"))
	assert.Empty(t, s.batches)
}

func TestNewRunnerRequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewRunner(Options{})
	require.Error(t, err)
}

func TestIndexabilityChecks(t *testing.T) {
	t.Parallel()
	cutoff := testNow.Add(-24 * time.Hour)
	acts := &jobActivities{job: crawler.Job{Parameters: crawler.JobParameters{Limits: crawler.IndexLimits{
		MaxLength:          10,
		MimeTypes:          []string{"application/pdf"},
		ExcludeURLPrefixes: []string{"http://private."},
		ModifiedAfter:      &cutoff,
	}}}}
	ctx := context.Background()

	check := func(ok bool, err error) bool {
		require.NoError(t, err)
		return ok
	}
	assert.True(t, check(acts.CheckLengthIndexable(ctx, 10)))
	assert.False(t, check(acts.CheckLengthIndexable(ctx, 11)))
	assert.True(t, check(acts.CheckMimeTypeIndexable(ctx, "Application/PDF; version=1.7")))
	assert.False(t, check(acts.CheckMimeTypeIndexable(ctx, "text/html")))
	assert.True(t, check(acts.CheckURLIndexable(ctx, "http://public.example.com/a")))
	assert.False(t, check(acts.CheckURLIndexable(ctx, "http://private.example.com/a")))
	assert.True(t, check(acts.CheckDateIndexable(ctx, testNow)))
	assert.True(t, check(acts.CheckDateIndexable(ctx, time.Time{})))
	assert.False(t, check(acts.CheckDateIndexable(ctx, cutoff.Add(-time.Second))))

	open := &jobActivities{}
	assert.True(t, check(open.CheckMimeTypeIndexable(ctx, "anything/else")))
	assert.True(t, check(open.CheckLengthIndexable(ctx, 1<<40)))
}

func TestIngestReadFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, crawlScript(), Config{})
	acts := &jobActivities{
		runner: h.runner,
		job:    crawler.Job{ID: "job-1"},
		conn:   store.Connection{Name: "docs"},
		state:  newJobState(crawler.Job{}),
		logger: h.runner.logger,
	}
	doc := crawler.NewRepositoryDocument()
	doc.SetBinary(io.MultiReader(strings.NewReader("par"), errReader{}), 10)

	err := acts.IngestDocument(context.Background(), "D9", "v", "http://x/D9", doc)
	require.Error(t, err)
	assert.Empty(t, h.publisher.Messages())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
