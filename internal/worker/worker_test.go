package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/queue/memory"
)

type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	errs map[string]error
}

func (r *fakeRunner) Run(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, jobID)
	return r.errs[jobID]
}

func (r *fakeRunner) jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func TestWorker_RunsQueuedJobs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := memory.NewQueue(4)
	runner := &fakeRunner{errs: map[string]error{
		"job-fail": errors.New("connection refused"),
		"job-stop": fmt.Errorf("process: %w", crawler.ErrJobStopped),
	}}
	for _, id := range []string{"job-fail", "job-stop", "job-ok"} {
		require.NoError(t, queue.Enqueue(ctx, crawler.QueueItem{JobID: id}))
	}

	w := New(queue, runner, zap.NewNop())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(runner.jobs()) == 3
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"job-fail", "job-stop", "job-ok"}, runner.jobs())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

type flakyQueue struct {
	mu    sync.Mutex
	calls int
	item  crawler.QueueItem
}

func (q *flakyQueue) Enqueue(context.Context, crawler.QueueItem) error { return nil }

func (q *flakyQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	q.mu.Lock()
	q.calls++
	calls := q.calls
	q.mu.Unlock()
	switch calls {
	case 1:
		return crawler.QueueItem{}, errors.New("transient")
	case 2:
		return q.item, nil
	default:
		<-ctx.Done()
		return crawler.QueueItem{}, ctx.Err()
	}
}

func TestWorker_SurvivesDequeueErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{}
	w := New(&flakyQueue{item: crawler.QueueItem{JobID: "job-1"}}, runner, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(runner.jobs()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_NilRunnerDropsItems(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil)
	require.NotPanics(t, func() {
		w.processJob(context.Background(), crawler.QueueItem{JobID: "job-1"})
	})
}

// Workers run in processes that never touch the HTTP server, so the gauge must
// work without an explicit metrics.Init.
func TestWorker_RecordsMetricsWithoutInit(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	w := New(nil, runner, zap.NewNop())
	require.NotPanics(t, func() {
		w.processJob(context.Background(), crawler.QueueItem{JobID: "job-1"})
	})
	require.Equal(t, []string{"job-1"}, runner.jobs())
}
