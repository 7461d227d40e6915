package domain

import (
	"time"
)

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the status of a step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// ModelKind selects the classifier family
type ModelKind string

const (
	ModelKindTree   ModelKind = "tree"
	ModelKindForest ModelKind = "forest"
)

// RunRequest describes the inputs of a pipeline run
type RunRequest struct {
	DataPath     string    `json:"data_path" validate:"required"`
	Sheet        string    `json:"sheet,omitempty"`
	FeatureNames []string  `json:"feature_names,omitempty" validate:"omitempty,dive,required"`
	Columns      []string  `json:"columns,omitempty" validate:"omitempty,dive,required"`
	Ratios       []float64 `json:"ratios,omitempty" validate:"omitempty,dive,min=0,max=1"`
	Model        ModelKind `json:"model,omitempty" validate:"omitempty,oneof=tree forest"`
	Depth        int       `json:"depth,omitempty" validate:"omitempty,min=1,max=10"`
}

// StepReport records how one step of a run went
type StepReport struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is the document written at the end of a run
type RunReport struct {
	RunID       string          `json:"run_id"`
	Status      RunStatus       `json:"status"`
	Request     RunRequest      `json:"request"`
	Dataset     string          `json:"dataset"`
	TargetName  string          `json:"target_name,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Summary     *DatasetSummary `json:"summary,omitempty"`
	SplitSizes  map[string]int  `json:"split_sizes,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Model       ModelKind       `json:"model,omitempty"`
	Evaluations []Evaluation    `json:"evaluations,omitempty"`
	Artifacts   []string        `json:"artifacts,omitempty"`
	Steps       []StepReport    `json:"steps,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}
