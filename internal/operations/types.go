package operations

import (
	"time"

	"catpipe/pkg/contracts/domain"
)

// Pipeline step identifiers
const (
	StepIDLoad     = "load"
	StepIDAnalyze  = "analyze"
	StepIDSplit    = "split"
	StepIDTrain    = "train"
	StepIDEvaluate = "evaluate"
	StepIDRender   = "render"
	StepIDExport   = "export"
)

// Pipeline step names
const (
	StepNameLoad     = "Load Dataset"
	StepNameAnalyze  = "Frequency Analysis"
	StepNameSplit    = "Train/Eval/Test Split"
	StepNameTrain    = "Model Training"
	StepNameEvaluate = "Model Evaluation"
	StepNameRender   = "Image Rendering"
	StepNameExport   = "Artifact Export"
)

// Context keys for values passed between steps
const (
	ContextKeyRequest     = "request"
	ContextKeyDataset     = "dataset"
	ContextKeySummary     = "summary"
	ContextKeySplit       = "split"
	ContextKeyClassifier  = "classifier"
	ContextKeyEvaluations = "evaluations"
	ContextKeyImages      = "images"
	ContextKeyArtifacts   = "artifacts"
	ContextKeyWarnings    = "warnings"
)

// WebSocket event types
const (
	EventTypeOperationSnapshot = "operation:snapshot"
	EventTypeOperationComplete = "operation:complete"
	EventTypeOperationError    = "operation:error"
)

// Default timeouts
const (
	DefaultStageTimeout    = 5 * time.Minute
	DefaultLoadTimeout     = 2 * time.Minute
	DefaultTrainTimeout    = 10 * time.Minute
	DefaultExportTimeout   = 5 * time.Minute
	DefaultReportRetention = 24 * time.Hour
)

// ExecutionMode defines how steps are executed
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// RetryConfig defines retry behavior for steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration: one retry
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// OperationRequest represents a request to execute the pipeline
type OperationRequest struct {
	ID  string            `json:"id"`
	Run domain.RunRequest `json:"run"`
}

// OperationResponse represents the response from a pipeline execution
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Report   *domain.RunReport     `json:"report,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// StepDescriptor describes a registered step to API clients
type StepDescriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Dependencies []string `json:"dependencies"`
}
