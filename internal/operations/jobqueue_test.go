package operations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/operations"
	"catpipe/internal/operations/testutil"
	"catpipe/pkg/contracts/domain"
)

func newTestQueue(t *testing.T, workers int, steps ...*testutil.MockStage) (*operations.JobQueue, *operations.Manager, *operations.MemoryJobStore) {
	t.Helper()
	m, _ := newTestManager(t, nil, steps...)
	store := operations.NewMemoryJobStore()
	logger, _ := testutil.CreateTestSlogLogger()
	q := operations.NewJobQueue(workers, store, m, logger)
	return q, m, store
}

func waitForJob(t *testing.T, q *operations.JobQueue, id string, status operations.JobStatus) *operations.Job {
	t.Helper()
	var job *operations.Job
	testutil.WaitForCondition(t, 2*time.Second, 5*time.Millisecond, func() bool {
		j, err := q.GetJob(id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, "job "+id+" to reach "+string(status))
	return job
}

func TestJobQueueRunsJobs(t *testing.T) {
	q, m, _ := newTestQueue(t, 2, testutil.CreateSuccessfulStage("only", "Only"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(time.Second)

	reqCtx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	job, err := q.Enqueue(reqCtx, operations.OperationRequest{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, operations.JobStatusPending, job.Status)
	assert.Equal(t, "req-42", job.RequestID)

	done := waitForJob(t, q, "job-1", operations.JobStatusCompleted)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)

	report, err := m.GetReport("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, report.Status)

	jobs, err := q.ListJobs(operations.JobFilter{Status: operations.JobStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobQueueFailedJob(t *testing.T) {
	q, _, _ := newTestQueue(t, 1, testutil.CreateFailingStage("only", "Only", errors.New("broken input")))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(time.Second)

	job, err := q.Enqueue(context.Background(), operations.OperationRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	failed := waitForJob(t, q, job.ID, operations.JobStatusFailed)
	assert.Contains(t, failed.Error, "broken input")
}

func TestJobQueueCancelPendingJob(t *testing.T) {
	q, m, store := newTestQueue(t, 1, testutil.CreateSuccessfulStage("only", "Only"))

	job, err := q.Enqueue(context.Background(), operations.OperationRequest{ID: "waiting"})
	require.NoError(t, err)
	require.NoError(t, q.CancelJob(job.ID))

	stored, err := store.GetJob("waiting")
	require.NoError(t, err)
	assert.Equal(t, operations.JobStatusCancelled, stored.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(time.Second)

	time.Sleep(50 * time.Millisecond)
	_, err = m.GetReport("waiting")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound, "cancelled jobs never run")

	err = q.CancelJob("waiting")
	assert.ErrorIs(t, err, operations.ErrOperationNotRunning)
}

func TestJobQueueCancelRunningJob(t *testing.T) {
	slow := testutil.CreateSlowStage("slow", "Slow", 5*time.Second)
	q, _, _ := newTestQueue(t, 1, slow)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(time.Second)

	_, err := q.Enqueue(context.Background(), operations.OperationRequest{ID: "running"})
	require.NoError(t, err)
	waitForJob(t, q, "running", operations.JobStatusRunning)
	testutil.WaitForCondition(t, time.Second, 5*time.Millisecond, func() bool {
		return slow.GetExecuteCalls() == 1
	}, "slow step to start")

	require.NoError(t, q.CancelJob("running"))
	waitForJob(t, q, "running", operations.JobStatusCancelled)
}

func TestJobQueueFull(t *testing.T) {
	q, m, store := newTestQueue(t, 1, testutil.CreateSuccessfulStage("only", "Only"))

	// workers are not started, so the buffer of two fills up
	for _, id := range []string{"a", "b"} {
		_, err := q.Enqueue(context.Background(), operations.OperationRequest{ID: id})
		require.NoError(t, err)
	}

	_, err := q.Enqueue(context.Background(), operations.OperationRequest{ID: "c"})
	assert.ErrorIs(t, err, operations.ErrQueueFull)

	rejected, err := store.GetJob("c")
	require.NoError(t, err)
	assert.Equal(t, operations.JobStatusFailed, rejected.Status)

	snap, ok := m.GetBroadcaster().GetSnapshot("c")
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusFailed, snap.Status)

	stats := q.GetQueueStats()
	assert.Equal(t, 2, stats["queue_size"])
	assert.Equal(t, 2, stats["queue_cap"])
}

func TestJobQueueStopped(t *testing.T) {
	q, _, _ := newTestQueue(t, 1)
	q.Start(context.Background())
	require.NoError(t, q.Stop(time.Second))
	require.NoError(t, q.Stop(time.Second))

	_, err := q.Enqueue(context.Background(), operations.OperationRequest{ID: "late"})
	assert.ErrorIs(t, err, operations.ErrQueueStopped)
}

func TestJobQueueGetUnknownJob(t *testing.T) {
	q, _, _ := newTestQueue(t, 1)
	_, err := q.GetJob("nope")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)
	assert.ErrorIs(t, q.CancelJob("nope"), operations.ErrOperationNotFound)
}
