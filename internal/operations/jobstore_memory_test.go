package operations_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/operations"
)

func TestMemoryJobStoreCRUD(t *testing.T) {
	store := operations.NewMemoryJobStore()
	job := &operations.Job{ID: "j1", Status: operations.JobStatusPending, CreatedAt: time.Now()}

	require.NoError(t, store.CreateJob(job))
	assert.Error(t, store.CreateJob(job), "duplicate ids are rejected")

	job.Status = operations.JobStatusRunning
	got, err := store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, operations.JobStatusPending, got.Status, "the store keeps its own copy")

	require.NoError(t, store.UpdateJob(job))
	got, err = store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, operations.JobStatusRunning, got.Status)

	require.NoError(t, store.DeleteJob("j1"))
	_, err = store.GetJob("j1")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)
	assert.ErrorIs(t, store.DeleteJob("j1"), operations.ErrOperationNotFound)
	assert.ErrorIs(t, store.UpdateJob(job), operations.ErrOperationNotFound)
}

func TestMemoryJobStoreList(t *testing.T) {
	store := operations.NewMemoryJobStore()
	base := time.Now().Add(-time.Hour)
	jobs := []*operations.Job{
		{ID: "old", Status: operations.JobStatusCompleted, CreatedAt: base},
		{ID: "mid", Status: operations.JobStatusFailed, CreatedAt: base.Add(20 * time.Minute)},
		{ID: "new", Status: operations.JobStatusCompleted, CreatedAt: base.Add(40 * time.Minute)},
	}
	for _, j := range jobs {
		require.NoError(t, store.CreateJob(j))
	}

	tests := []struct {
		name   string
		filter operations.JobFilter
		want   []string
	}{
		{"all newest first", operations.JobFilter{}, []string{"new", "mid", "old"}},
		{"by status", operations.JobFilter{Status: operations.JobStatusCompleted}, []string{"new", "old"}},
		{"since", operations.JobFilter{Since: base.Add(10 * time.Minute)}, []string{"new", "mid"}},
		{"limit", operations.JobFilter{Limit: 1}, []string{"new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, j := range got {
				ids[i] = j.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryJobStoreCleanupAndStats(t *testing.T) {
	store := operations.NewMemoryJobStore()
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.CreateJob(&operations.Job{ID: "done", Status: operations.JobStatusCompleted, CreatedAt: old}))
	require.NoError(t, store.CreateJob(&operations.Job{ID: "stuck", Status: operations.JobStatusRunning, CreatedAt: old}))
	require.NoError(t, store.CreateJob(&operations.Job{ID: "fresh", Status: operations.JobStatusFailed, CreatedAt: time.Now()}))

	stats := store.GetStats()
	assert.Equal(t, 3, stats["total_jobs"])
	assert.Equal(t, 1, stats["running"])

	deleted, err := store.CleanupOldJobs(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.GetJob("stuck")
	assert.NoError(t, err, "unfinished jobs are kept")
	_, err = store.GetJob("done")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)
}
