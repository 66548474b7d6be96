package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/queue"
	"github.com/Ramsey-B/clover/pkg/queue/queuetest"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fakeLocker struct {
	mu    sync.Mutex
	held  bool
	calls int
}

func (l *fakeLocker) TryWithLock(ctx context.Context, _ string, _ time.Duration, fn func(ctx context.Context) error) (bool, error) {
	l.mu.Lock()
	l.calls++
	held := l.held
	l.mu.Unlock()
	if held {
		return false, nil
	}
	return true, fn(ctx)
}

type fixture struct {
	store    *queuetest.Store
	queue    *queue.Queue
	recorder *events.Recorder
	pool     *Pool
}

func newFixture(locker Locker) *fixture {
	f := &fixture{
		store:    queuetest.NewStore(),
		recorder: events.NewRecorder(),
	}
	hooks := events.NewHooks(testLogger, f.recorder, f.recorder, f.recorder)
	f.queue = queue.NewQueue(f.store, hooks, queue.DefaultConfig(), testLogger)
	f.pool = NewPool(f.queue, locker, Config{Name: "test", WorkerCount: 2, PollInterval: 5 * time.Millisecond}, testLogger)
	return f
}

func (f *fixture) enqueue(t *testing.T, sku string) *models.QueueJob {
	t.Helper()
	job, err := f.queue.Enqueue(context.Background(), models.MatchSKUPayload{
		Record: models.SourceRecord{ExternalSKU: sku, Source: "ozon", Name: "Apple iPhone 14"},
	}, models.EnqueueOptions{})
	require.NoError(t, err)
	return job
}

func (f *fixture) job(t *testing.T, id string) *models.QueueJob {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestProcessNext_CompletesJob(t *testing.T) {
	f := newFixture(nil)
	enqueued := f.enqueue(t, "OZ-1")

	var seen string
	f.pool.Register(models.JobTypeMatchSKU, func(_ context.Context, job *models.QueueJob) (any, error) {
		payload, err := job.Decode()
		require.NoError(t, err)
		seen = payload.(models.MatchSKUPayload).Record.ExternalSKU
		return map[string]string{"ok": "yes"}, nil
	})

	processed, err := f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, "OZ-1", seen)

	job := f.job(t, enqueued.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"ok":"yes"}`, string(job.Result.Data))
}

func TestProcessNext_HandlerErrorSchedulesRetry(t *testing.T) {
	f := newFixture(nil)
	enqueued := f.enqueue(t, "OZ-1")

	f.pool.Register(models.JobTypeMatchSKU, func(context.Context, *models.QueueJob) (any, error) {
		return nil, fmt.Errorf("database unavailable")
	})

	processed, err := f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.True(t, processed)

	job := f.job(t, enqueued.ID)
	assert.Equal(t, models.JobStatusRetry, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "database unavailable")
	assert.Nil(t, job.WorkerID)
}

func TestProcessNext_RecoversPanics(t *testing.T) {
	f := newFixture(nil)
	enqueued := f.enqueue(t, "OZ-1")

	f.pool.Register(models.JobTypeMatchSKU, func(context.Context, *models.QueueJob) (any, error) {
		panic("nil map")
	})

	processed, err := f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.True(t, processed)

	job := f.job(t, enqueued.ID)
	assert.Equal(t, models.JobStatusRetry, job.Status)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "panicked")
}

func TestProcessNext_InvalidPayloadFailsWithoutRetry(t *testing.T) {
	f := newFixture(nil)
	enqueued := f.enqueue(t, "OZ-1")

	f.pool.Register(models.JobTypeMatchSKU, func(_ context.Context, job *models.QueueJob) (any, error) {
		_, err := decode[models.RematchMappingPayload](job)
		return nil, err
	})

	processed, err := f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.True(t, processed)

	job := f.job(t, enqueued.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "has payload")
	assert.Empty(t, f.recorder.Notifications())

	processed, err = f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNext_ExhaustedJobFails(t *testing.T) {
	f := newFixture(nil)
	job, err := f.queue.Enqueue(context.Background(), models.RematchMappingPayload{MappingID: "m-1"}, models.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)

	f.pool.Register(models.JobTypeRematchMapping, func(context.Context, *models.QueueJob) (any, error) {
		return nil, fmt.Errorf("boom")
	})

	processed, err := f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, models.JobStatusFailed, f.job(t, job.ID).Status)
	require.Len(t, f.recorder.Notifications(), 1)
	assert.Equal(t, models.MetricQueueExhausted, f.recorder.Notifications()[0].Metric)
}

func TestProcessNext_OnlyClaimsRegisteredTypes(t *testing.T) {
	f := newFixture(nil)
	f.enqueue(t, "OZ-1")

	f.pool.Register(models.JobTypeRetentionCleanup, func(context.Context, *models.QueueJob) (any, error) {
		t.Fatal("retention handler must not run for a match job")
		return nil, nil
	})

	processed, err := f.pool.ProcessNext(context.Background(), "test-0")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestStart_RequiresHandlers(t *testing.T) {
	f := newFixture(nil)
	assert.ErrorIs(t, f.pool.Start(context.Background()), ErrNoHandlers)
}

func TestStartStop_ProcessesQueue(t *testing.T) {
	f := newFixture(nil)
	for i := 0; i < 10; i++ {
		f.enqueue(t, fmt.Sprintf("OZ-%d", i))
	}

	var handled atomic.Int32
	f.pool.Register(models.JobTypeMatchSKU, func(context.Context, *models.QueueJob) (any, error) {
		handled.Add(1)
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.pool.Start(ctx))
	assert.True(t, f.pool.IsRunning())
	assert.ErrorIs(t, f.pool.Start(ctx), ErrPoolRunning)

	require.Eventually(t, func() bool { return handled.Load() == 10 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, f.pool.Stop(stopCtx))
	assert.False(t, f.pool.IsRunning())

	for _, job := range f.store.Jobs() {
		assert.Equal(t, models.JobStatusCompleted, job.Status)
	}
}

func TestSweep_ReleasesStuckJobs(t *testing.T) {
	locker := &fakeLocker{}
	f := newFixture(locker)
	enqueued := f.enqueue(t, "OZ-1")

	claimed, err := f.queue.Dequeue(context.Background(), "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	f.store.SetClaimedAt(enqueued.ID, time.Now().UTC().Add(-90*time.Minute))

	reset, err := f.pool.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	assert.Equal(t, 1, locker.calls)
	assert.Equal(t, models.JobStatusPending, f.job(t, enqueued.ID).Status)
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	locker := &fakeLocker{held: true}
	f := newFixture(locker)
	enqueued := f.enqueue(t, "OZ-1")

	_, err := f.queue.Dequeue(context.Background(), "dead-worker")
	require.NoError(t, err)
	f.store.SetClaimedAt(enqueued.ID, time.Now().UTC().Add(-90*time.Minute))

	reset, err := f.pool.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reset)
	assert.Equal(t, models.JobStatusProcessing, f.job(t, enqueued.ID).Status)
}
