package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/internal/testutil"
	"github.com/hotaru-sns/hotaru/x/util"
)

func TestBackoffDelay(t *testing.T) {

	base := 60 * time.Second

	assert.Equal(t, 60*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 120*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 240*time.Second, backoffDelay(base, 3))
	assert.Equal(t, 480*time.Second, backoffDelay(base, 4))

	// claim-time increment means attempts never reach zero, but a
	// bogus value must not underflow the shift
	assert.Equal(t, 60*time.Second, backoffDelay(base, 0))
}

func TestRepository(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	repo := NewRepository(db)

	created, err := repo.Enqueue(ctx, core.Job{
		Queue:       QueueInbox,
		Type:        "process",
		Payload:     `{"hello":"world"}`,
		MaxAttempts: 8,
		BaseDelay:   60000,
		Scheduled:   time.Now(),
	})
	if assert.NoError(t, err) {
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, core.JobStatusPending, created.Status)
		assert.Equal(t, 0, created.Attempts)
	}

	// claiming moves the row to running and consumes an attempt
	claimed, err := repo.Dequeue(ctx, QueueInbox)
	if assert.NoError(t, err) {
		assert.Equal(t, created.ID, claimed.ID)
		assert.Equal(t, core.JobStatusRunning, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
	}

	// the claim stamps its own time, so a backlogged job freshly
	// claimed is not mistaken for a stalled one
	assert.WithinDuration(t, time.Now(), claimed.Scheduled, 5*time.Second)
	n, err := repo.RequeueStalled(ctx, time.Now().Add(-stalledThreshold))
	assert.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// a running job is not claimable again
	_, err = repo.Dequeue(ctx, QueueInbox)
	assert.Error(t, err)

	// rescheduling into the future hides the job until due
	err = repo.Reschedule(ctx, claimed.ID, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	_, err = repo.Dequeue(ctx, QueueInbox)
	assert.Error(t, err)

	// rescheduling to now makes it claimable, consuming attempt two
	err = repo.Reschedule(ctx, claimed.ID, time.Now().Add(-time.Second))
	assert.NoError(t, err)
	claimed, err = repo.Dequeue(ctx, QueueInbox)
	if assert.NoError(t, err) {
		assert.Equal(t, 2, claimed.Attempts)
	}

	// stalled running rows return to pending
	n, err = repo.RequeueStalled(ctx, time.Now().Add(time.Minute))
	assert.NoError(t, err)
	assert.EqualValues(t, 1, n)

	claimed, err = repo.Dequeue(ctx, QueueInbox)
	if assert.NoError(t, err) {
		assert.Equal(t, 3, claimed.Attempts)
	}

	// discarded rows are gone, not archived
	err = repo.Discard(ctx, claimed.ID)
	assert.NoError(t, err)
	_, err = repo.Dequeue(ctx, QueueInbox)
	assert.Error(t, err)
}

func TestWorkerRetriesUntilExhaustion(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	rdb, cleanup_rdb := testutil.CreateRDB()
	defer cleanup_rdb()

	config := util.Config{}
	config.Queue.Concurrency = 1

	service := NewService(NewRepository(db), rdb, config)

	var attempts atomic.Int32
	service.Register(QueueDB, "alwaysFails", func(ctx context.Context, job *core.Job) (string, error) {
		attempts.Add(1)
		return "", errors.New("transient failure")
	})

	_, err := service.Enqueue(ctx, QueueDB, "alwaysFails", "{}", core.JobOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	assert.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	service.Start(runCtx)

	assert.Eventually(t, func() bool {
		return attempts.Load() == 3
	}, 15*time.Second, 100*time.Millisecond)

	// no further attempts after exhaustion
	time.Sleep(2 * time.Second)
	assert.EqualValues(t, 3, attempts.Load())

	cancel()
	service.Shutdown(ctx)

	// the exhausted row was discarded
	var count int64
	db.Model(&core.Job{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

// drainRepo hands out a single job and records how it settles.
type drainRepo struct {
	mu        sync.Mutex
	job       *core.Job
	discarded bool
}

func (r *drainRepo) Enqueue(ctx context.Context, job core.Job) (core.Job, error) {
	return job, nil
}

func (r *drainRepo) Dequeue(ctx context.Context, queue string) (*core.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil || r.job.Queue != queue {
		return nil, core.NewErrorNotFound()
	}
	job := r.job
	r.job = nil
	job.Status = core.JobStatusRunning
	job.Attempts++
	return job, nil
}

func (r *drainRepo) Reschedule(ctx context.Context, id string, scheduled time.Time) error {
	return nil
}

func (r *drainRepo) Discard(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = true
	return nil
}

func (r *drainRepo) RequeueStalled(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func TestShutdownDrainsInFlightJob(t *testing.T) {

	config := util.Config{}
	config.Queue.Concurrency = 1

	repo := &drainRepo{job: &core.Job{
		ID:          "j1",
		Queue:       QueueDB,
		Type:        "slow",
		MaxAttempts: 1,
		BaseDelay:   1,
	}}
	service := NewService(repo, nil, config)

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	service.Register(QueueDB, "slow", func(ctx context.Context, job *core.Job) (string, error) {
		close(started)
		<-release
		handlerCtxErr = ctx.Err()
		return "done", nil
	})

	service.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		service.Shutdown(context.Background())
		close(done)
	}()

	// shutdown has begun while the job is still running
	time.Sleep(200 * time.Millisecond)
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	assert.NoError(t, handlerCtxErr, "in-flight job must keep a live context through shutdown")
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.True(t, repo.discarded, "completed job must settle its row")
}

func TestWorkerRecoversFromPanic(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	rdb, cleanup_rdb := testutil.CreateRDB()
	defer cleanup_rdb()

	config := util.Config{}
	config.Queue.Concurrency = 1

	service := NewService(NewRepository(db), rdb, config)

	var attempts atomic.Int32
	service.Register(QueueDB, "panics", func(ctx context.Context, job *core.Job) (string, error) {
		if attempts.Add(1) == 1 {
			panic("boom")
		}
		return "recovered", nil
	})

	_, err := service.Enqueue(ctx, QueueDB, "panics", "{}", core.JobOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	assert.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	service.Start(runCtx)

	// the panic consumes one attempt and the retry succeeds
	assert.Eventually(t, func() bool {
		return attempts.Load() == 2
	}, 15*time.Second, 100*time.Millisecond)

	cancel()
	service.Shutdown(ctx)
}
