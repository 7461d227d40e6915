package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"catpipe/internal/operations"
	"catpipe/pkg/contracts/domain"
)

// CreateTestOperationState creates an operation state carrying req
func CreateTestOperationState(id string, req domain.RunRequest) *operations.OperationState {
	state := operations.NewOperationState(id)
	state.SetConfig(operations.ContextKeyRequest, req)
	return state
}

// CreateTestConfig creates a configuration with short retry delays
func CreateTestConfig() *operations.Config {
	return operations.NewConfigBuilder().
		WithExecutionMode(operations.ExecutionModeSequential).
		WithRetryConfig(operations.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		}).
		WithStageTimeout(operations.StepIDLoad, 5*time.Second).
		WithStageTimeout(operations.StepIDTrain, 10*time.Second).
		WithRunTimeout(30 * time.Second).
		Build()
}

// CreateTestRegistry creates a registry of three independent steps
func CreateTestRegistry() *operations.Registry {
	registry := operations.NewRegistry()
	registry.Register(CreateSuccessfulStage("stage1", "step 1"))
	registry.Register(CreateSuccessfulStage("stage2", "step 2"))
	registry.Register(CreateSuccessfulStage("stage3", "step 3"))
	return registry
}

// CreateSuccessfulStage creates a step that always succeeds
func CreateSuccessfulStage(id, name string, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			if step := state.GetStage(id); step != nil {
				step.UpdateProgress(50, "Processing...")
			}
			timer := time.NewTimer(5 * time.Millisecond)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			return nil
		},
	}
}

// CreateFailingStage creates a step that always fails
func CreateFailingStage(id, name string, err error, deps ...string) *MockStage {
	if err == nil {
		err = errors.New("step failed")
	}
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			return err
		},
	}
}

// CreateRetryableStage creates a step that fails failCount times before
// succeeding
func CreateRetryableStage(id, name string, failCount int, deps ...string) *MockStage {
	var attempts atomic.Int32
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			if int(attempts.Add(1)) <= failCount {
				return operations.NewExecutionError(id, errors.New("temporary failure"), true)
			}
			return nil
		},
	}
}

// CreateSlowStage creates a step that takes duration unless cancelled
func CreateSlowStage(id, name string, duration time.Duration, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			select {
			case <-time.After(duration):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// CreateValidationFailingStage creates a step that fails validation
func CreateValidationFailingStage(id, name string, validationErr error, deps ...string) *MockStage {
	if validationErr == nil {
		validationErr = errors.New("validation failed")
	}
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ValidateFunc: func(state *operations.OperationState) error {
			return validationErr
		},
	}
}

// CreateContextWritingStage creates a step that stores value under key
func CreateContextWritingStage(id, name, key string, value interface{}, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			state.SetContext(key, value)
			return nil
		},
	}
}

// CreateComplexPipelineStages creates steps with a diamond dependency:
// A before B and C, both before D
func CreateComplexPipelineStages() []*MockStage {
	stageA := CreateSuccessfulStage("A", "step A")
	stageB := CreateSuccessfulStage("B", "step B", "A")
	stageC := CreateSuccessfulStage("C", "step C", "A")
	stageD := CreateSuccessfulStage("D", "step D", "B", "C")
	return []*MockStage{stageA, stageB, stageC, stageD}
}

// CreateOperationRequest creates a run request for dataPath with the
// default 60/20/20 split
func CreateOperationRequest(dataPath string) operations.OperationRequest {
	return operations.OperationRequest{
		ID: fmt.Sprintf("test-run-%d", time.Now().UnixNano()),
		Run: domain.RunRequest{
			DataPath: dataPath,
			Ratios:   []float64{0.6, 0.2, 0.2},
			Model:    domain.ModelKindTree,
			Depth:    3,
		},
	}
}

// StageBuilder provides a fluent interface for creating test steps
type StageBuilder struct {
	step *MockStage
}

// NewStageBuilder creates a new step builder
func NewStageBuilder(id, name string) *StageBuilder {
	return &StageBuilder{
		step: &MockStage{
			IDValue:   id,
			NameValue: name,
		},
	}
}

// WithDependencies sets the step dependencies
func (b *StageBuilder) WithDependencies(deps ...string) *StageBuilder {
	b.step.DependenciesValue = deps
	return b
}

// WithExecute sets the execute function
func (b *StageBuilder) WithExecute(fn func(context.Context, *operations.OperationState) error) *StageBuilder {
	b.step.ExecuteFunc = fn
	return b
}

// WithValidate sets the validate function
func (b *StageBuilder) WithValidate(fn func(*operations.OperationState) error) *StageBuilder {
	b.step.ValidateFunc = fn
	return b
}

// Build returns the constructed step
func (b *StageBuilder) Build() *MockStage {
	return b.step
}
