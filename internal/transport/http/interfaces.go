package http

import (
	"context"

	"catpipe/internal/operations"
	"catpipe/pkg/contracts/domain"
)

// RunService queues and tracks pipeline runs. Implemented by
// operations.JobQueue.
type RunService interface {
	Enqueue(ctx context.Context, req operations.OperationRequest) (*operations.Job, error)
	GetJob(id string) (*operations.Job, error)
	ListJobs(filter operations.JobFilter) ([]*operations.Job, error)
	CancelJob(id string) error
	GetQueueStats() map[string]interface{}
}

// ReportSource returns run reports. Implemented by operations.Manager.
type ReportSource interface {
	GetReport(id string) (*domain.RunReport, error)
}

// SnapshotSource returns live run progress. Implemented by
// operations.StatusBroadcaster.
type SnapshotSource interface {
	GetSnapshot(id string) (*operations.OperationSnapshot, bool)
}

// RatioValidator checks split ratios before a run is queued
type RatioValidator interface {
	ValidateRatios(ratios domain.SplitRatios) error
}

// PipelineDescriber lists the pipeline steps in execution order
type PipelineDescriber interface {
	Describe() ([]operations.StepDescriptor, error)
}

// HubStats exposes websocket hub counters
type HubStats interface {
	GetHubMetrics() map[string]interface{}
}
