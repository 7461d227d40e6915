package testutil

import (
	"errors"
	"sort"
	"testing"
	"time"

	"catpipe/internal/operations"
	"catpipe/pkg/contracts/domain"
)

// AssertStepStatus verifies a step has the expected status
func AssertStepStatus(t *testing.T, step *operations.StepState, expected operations.StepStatus) {
	t.Helper()
	if step == nil {
		t.Fatal("step state is nil")
	}
	if got := step.GetStatus(); got != expected {
		t.Errorf("step %s status = %v, want %v", step.ID, got, expected)
	}
}

// AssertStageCompleted verifies a step completed successfully
func AssertStageCompleted(t *testing.T, p *operations.OperationState, stageID string) {
	t.Helper()
	step := p.GetStage(stageID)
	if step == nil {
		t.Fatalf("step %s not found", stageID)
	}
	AssertStepStatus(t, step, operations.StepStatusCompleted)
	if step.Progress != 100 {
		t.Errorf("step %s progress = %v, want 100", stageID, step.Progress)
	}
}

// AssertStageFailed verifies a step failed with an error
func AssertStageFailed(t *testing.T, p *operations.OperationState, stageID string) {
	t.Helper()
	step := p.GetStage(stageID)
	if step == nil {
		t.Fatalf("step %s not found", stageID)
	}
	AssertStepStatus(t, step, operations.StepStatusFailed)
	if step.Error == nil {
		t.Errorf("step %s has no error", stageID)
	}
}

// AssertStageSkipped verifies a step was skipped
func AssertStageSkipped(t *testing.T, p *operations.OperationState, stageID string) {
	t.Helper()
	step := p.GetStage(stageID)
	if step == nil {
		t.Fatalf("step %s not found", stageID)
	}
	AssertStepStatus(t, step, operations.StepStatusSkipped)
}

// AssertStepReports verifies the step statuses of a run report in order
func AssertStepReports(t *testing.T, report *domain.RunReport, expected map[string]domain.StepStatus) {
	t.Helper()
	if report == nil {
		t.Fatal("report is nil")
	}
	seen := make(map[string]bool, len(report.Steps))
	for _, step := range report.Steps {
		seen[step.ID] = true
		want, ok := expected[step.ID]
		if !ok {
			continue
		}
		if step.Status != want {
			t.Errorf("report step %s status = %v, want %v", step.ID, step.Status, want)
		}
	}
	for id := range expected {
		if !seen[id] {
			t.Errorf("report has no step %s", id)
		}
	}
}

// AssertErrorType verifies the type of an operation error anywhere in the chain
func AssertErrorType(t *testing.T, err error, expectedType operations.ErrorType) {
	t.Helper()
	if err == nil {
		t.Fatal("error is nil")
	}
	var opErr *operations.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("error is not an OperationError: %T", err)
	}
	if opErr.Type != expectedType {
		t.Errorf("error type = %v, want %v", opErr.Type, expectedType)
	}
}

// AssertDuration verifies a duration is within tolerance
func AssertDuration(t *testing.T, actual, expected, tolerance time.Duration) {
	t.Helper()
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("duration = %v, want %v ± %v", actual, expected, tolerance)
	}
}

// AssertStageOrder verifies steps were first executed in the expected order
func AssertStageOrder(t *testing.T, steps []*MockStage, expectedOrder []string) {
	t.Helper()

	type execution struct {
		id   string
		time time.Time
	}

	var executions []execution
	for _, step := range steps {
		if at, ok := step.FirstExecuteTime(); ok {
			executions = append(executions, execution{id: step.ID(), time: at})
		}
	}
	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].time.Before(executions[j].time)
	})

	if len(executions) != len(expectedOrder) {
		t.Errorf("executed %d steps, expected %d", len(executions), len(expectedOrder))
		return
	}
	for i, exec := range executions {
		if exec.id != expectedOrder[i] {
			t.Errorf("execution order[%d] = %s, want %s", i, exec.id, expectedOrder[i])
		}
	}
}
