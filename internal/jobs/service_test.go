package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	queuememory "github.com/JakeFAU/lcf-connectors/internal/queue/memory"
	"github.com/JakeFAU/lcf-connectors/internal/storage/memory"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return "job-" + string(rune('0'+g.n)), nil
}

type connections map[string]store.Connection

func (c connections) Load(_ context.Context, name string) (store.Connection, error) {
	conn, ok := c[name]
	if !ok {
		return store.Connection{}, store.ErrNotFound
	}
	return conn, nil
}

type fakeCanceler struct{ running map[string]bool }

func (f fakeCanceler) Cancel(jobID string) bool { return f.running[jobID] }

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return errors.New("queue full")
}

func (failingQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}

func newService(t *testing.T, queue crawler.Queue, canceler Canceler) (*Service, *memory.JobStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	svc, err := NewService(Options{
		Jobs:        jobs,
		Connections: connections{"docs": {Name: "docs", ClassName: "csws"}},
		Queue:       queue,
		Canceler:    canceler,
		IDs:         &seqIDs{},
		Clock:       fixedClock{},
	})
	require.NoError(t, err)
	return svc, jobs
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	queue := queuememory.NewQueue(2)
	svc, _ := newService(t, queue, nil)
	ctx := context.Background()

	job, err := svc.Submit(ctx, crawler.JobParameters{Connection: "docs"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, crawler.JobStatusQueued, job.Status)
	assert.Equal(t, testNow, job.Submitted)

	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.QueueItem{JobID: "job-1", Attempt: 1, Submitted: testNow.Unix()}, item)

	stored, err := svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "docs", stored.Parameters.Connection)
}

func TestSubmitErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _ := newService(t, queuememory.NewQueue(1), nil)
	_, err := svc.Submit(ctx, crawler.JobParameters{})
	require.ErrorIs(t, err, ErrNoConnection)
	_, err = svc.Submit(ctx, crawler.JobParameters{Connection: "missing"})
	require.ErrorIs(t, err, store.ErrNotFound)

	svc, jobs := newService(t, failingQueue{}, nil)
	_, err = svc.Submit(ctx, crawler.JobParameters{Connection: "docs"})
	require.ErrorContains(t, err, "queue full")
	job, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, jobs := newService(t, queuememory.NewQueue(4), fakeCanceler{running: map[string]bool{"job-2": true}})

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, crawler.JobParameters{Connection: "docs"})
		require.NoError(t, err)
	}
	require.NoError(t, jobs.UpdateStatus(ctx, "job-3", crawler.JobStatusSucceeded, "", crawler.JobCounters{}, testNow))

	queued, err := svc.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCanceled, queued.Status)
	assert.Equal(t, "canceled via API", queued.ErrorText)

	running, err := svc.Cancel(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCanceled, running.Status)

	done, err := svc.Cancel(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusSucceeded, done.Status)

	_, err = svc.Cancel(ctx, "job-9")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewServiceValidates(t *testing.T) {
	t.Parallel()
	_, err := NewService(Options{})
	require.Error(t, err)
}

func TestSubmitResumesFromLastSeedVersion(t *testing.T) {
	t.Parallel()
	queue := queuememory.NewQueue(4)
	svc, jobs := newService(t, queue, nil)
	ctx := context.Background()
	spec := crawler.DocumentSpec{}.Add("startpoint", map[string]string{"path": "Projects"})

	first, err := svc.Submit(ctx, crawler.JobParameters{Connection: "docs", Spec: spec})
	require.NoError(t, err)
	assert.Empty(t, first.SeedVersion)

	require.NoError(t, jobs.UpdateSeedVersion(ctx, first.ID, "1714557600000"))
	require.NoError(t, jobs.UpdateStatus(ctx, first.ID, crawler.JobStatusSucceeded, "", crawler.JobCounters{}, testNow))

	second, err := svc.Submit(ctx, crawler.JobParameters{Connection: "docs", Spec: spec})
	require.NoError(t, err)
	assert.Equal(t, "1714557600000", second.SeedVersion)
	stored, err := jobs.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "1714557600000", stored.SeedVersion)

	other, err := svc.Submit(ctx, crawler.JobParameters{
		Connection: "docs",
		Spec:       crawler.DocumentSpec{}.Add("startpoint", map[string]string{"path": "Archive"}),
	})
	require.NoError(t, err)
	assert.Empty(t, other.SeedVersion, "a different spec starts from scratch")
}
