package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"catpipe/internal/infrastructure"
)

// JobStatus represents the status of a queued run
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is a pipeline run waiting for or occupying a worker. The job id is
// the run id.
type Job struct {
	ID          string           `json:"id"`
	Status      JobStatus        `json:"status"`
	Error       string           `json:"error,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Request     OperationRequest `json:"request"`
}

// IsFinished reports whether the job reached a terminal status
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// JobStore persists jobs
type JobStore interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(job *Job) error
	ListJobs(filter JobFilter) ([]*Job, error)
	DeleteJob(id string) error
}

// JobFilter for querying jobs
type JobFilter struct {
	Status JobStatus
	Since  time.Time
	Limit  int
}

// JobQueue runs pipeline requests on a fixed pool of workers
type JobQueue struct {
	mu       sync.RWMutex
	jobs     chan *Job
	workers  int
	wg       sync.WaitGroup
	store    JobStore
	manager  *Manager
	logger   *slog.Logger
	shutdown chan struct{}
	stopOnce sync.Once
	active   map[string]*Job
}

// NewJobQueue creates a queue with room for twice as many waiting jobs as
// workers
func NewJobQueue(workers int, store JobStore, manager *Manager, logger *slog.Logger) *JobQueue {
	if workers <= 0 {
		workers = 2
	}
	if store == nil {
		store = NewMemoryJobStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JobQueue{
		jobs:     make(chan *Job, workers*2),
		workers:  workers,
		store:    store,
		manager:  manager,
		logger:   logger.With(slog.String("component", "jobqueue")),
		shutdown: make(chan struct{}),
		active:   make(map[string]*Job),
	}
}

// Start begins processing jobs
func (q *JobQueue) Start(ctx context.Context) {
	q.logger.Info("job_queue_start", slog.Int("workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop signals the workers and waits up to timeout for running jobs
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.logger.Info("job_queue_stop")
	q.stopOnce.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job_queue_stopped")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("job_queue_stop_timeout", slog.Duration("timeout", timeout))
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue stores a new job for req and hands it to the workers. A request
// without an id gets a fresh run id.
func (q *JobQueue) Enqueue(ctx context.Context, req OperationRequest) (*Job, error) {
	select {
	case <-q.shutdown:
		return nil, ErrQueueStopped
	default:
	}

	if req.ID == "" {
		req.ID = infrastructure.GenerateRunID()
	}

	job := &Job{
		ID:        req.ID,
		Status:    JobStatusPending,
		RequestID: middleware.GetReqID(ctx),
		CreatedAt: time.Now(),
		Request:   req,
	}
	if err := q.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	steps := q.manager.GetRegistry().List()
	ids := make([]string, len(steps))
	names := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID()
		names[i] = step.Name()
	}
	q.manager.GetBroadcaster().CreateOperation(job.ID, ids, names)

	// workers own job once it is sent
	out := job.clone()
	select {
	case q.jobs <- job:
		q.logger.InfoContext(ctx, "job_enqueued",
			slog.String("job_id", job.ID),
			slog.String("data_path", req.Run.DataPath))
		return out, nil
	default:
		now := time.Now()
		job.Status = JobStatusFailed
		job.Error = ErrQueueFull.Error()
		job.CompletedAt = &now
		q.store.UpdateJob(job)
		q.manager.GetBroadcaster().FailOperation(job.ID, ErrQueueFull)
		return nil, ErrQueueFull
	}
}

// GetJob retrieves a job by id
func (q *JobQueue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	if job, ok := q.active[id]; ok {
		out := job.clone()
		q.mu.RUnlock()
		return out, nil
	}
	q.mu.RUnlock()

	return q.store.GetJob(id)
}

// CancelJob cancels a pending or running job
func (q *JobQueue) CancelJob(id string) error {
	job, err := q.GetJob(id)
	if err != nil {
		return err
	}

	switch job.Status {
	case JobStatusPending:
		now := time.Now()
		job.Status = JobStatusCancelled
		job.CompletedAt = &now
		if err := q.store.UpdateJob(job); err != nil {
			return err
		}
		q.manager.GetBroadcaster().CancelOperation(id)
		return nil
	case JobStatusRunning:
		return q.manager.CancelOperation(id)
	default:
		return fmt.Errorf("job %s cannot be cancelled (status: %s): %w", id, job.Status, ErrOperationNotRunning)
	}
}

// ListJobs returns jobs matching the filter
func (q *JobQueue) ListJobs(filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(filter)
}

func (q *JobQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker_started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker_stopped", slog.String("reason", "context"))
			return
		case <-q.shutdown:
			logger.Debug("worker_stopped", slog.String("reason", "shutdown"))
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, logger)
		}
	}
}

// processJob executes a single job
func (q *JobQueue) processJob(ctx context.Context, job *Job, logger *slog.Logger) {
	if current, err := q.store.GetJob(job.ID); err == nil && current.Status == JobStatusCancelled {
		logger.Info("job_skipped_cancelled", slog.String("job_id", job.ID))
		return
	}

	if job.RequestID != "" {
		ctx = context.WithValue(ctx, middleware.RequestIDKey, job.RequestID)
		ctx = infrastructure.WithTraceID(ctx, job.RequestID)
	}
	logger = logger.With(slog.String("job_id", job.ID))
	logger.InfoContext(ctx, "job_started")

	now := time.Now()
	q.mu.Lock()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	q.active[job.ID] = job
	running := job.clone()
	q.mu.Unlock()
	if err := q.store.UpdateJob(running); err != nil {
		logger.Error("job_update_failed", slog.String("error", err.Error()))
	}

	status, errText := JobStatusFailed, ""
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job_panicked", slog.Any("panic", r))
			status = JobStatusFailed
			errText = fmt.Sprintf("job processing panicked: %v", r)
			q.manager.GetBroadcaster().FailOperation(job.ID, fmt.Errorf("%s", errText))
		}

		completedAt := time.Now()
		q.mu.Lock()
		job.Status = status
		job.Error = errText
		job.CompletedAt = &completedAt
		finished := job.clone()
		delete(q.active, job.ID)
		q.mu.Unlock()

		if err := q.store.UpdateJob(finished); err != nil {
			logger.Error("job_update_failed", slog.String("error", err.Error()))
		}
	}()

	resp, err := q.manager.Execute(ctx, job.Request)
	switch {
	case resp != nil:
		status = JobStatus(resp.Status)
		errText = resp.Error
	case err != nil:
		errText = err.Error()
	}

	logger.InfoContext(ctx, "job_finished",
		slog.String("status", string(status)),
		slog.Duration("duration", time.Since(now)))
}

// GetQueueStats returns queue statistics
func (q *JobQueue) GetQueueStats() map[string]interface{} {
	q.mu.RLock()
	activeCount := len(q.active)
	q.mu.RUnlock()

	return map[string]interface{}{
		"workers":     q.workers,
		"queue_size":  len(q.jobs),
		"queue_cap":   cap(q.jobs),
		"active_jobs": activeCount,
	}
}

func (j *Job) clone() *Job {
	out := *j
	return &out
}
