package operations_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "catpipe/internal/errors"
	"catpipe/internal/operations"
)

func TestOperationErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *operations.OperationError
		want string
	}{
		{
			name: "without step",
			err:  operations.NewFatalError("registry broken", nil),
			want: "[fatal] registry broken",
		},
		{
			name: "with step and cause",
			err:  operations.NewExecutionError("split", errors.New("disk full"), false),
			want: "[execution] split: step execution failed: disk full",
		},
		{
			name: "timeout",
			err:  operations.NewTimeoutError("train", "1s"),
			want: "[timeout] train: step exceeded timeout of 1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"retryable execution error", operations.NewExecutionError("load", errors.New("x"), true), true},
		{"non retryable execution error", operations.NewExecutionError("load", errors.New("x"), false), false},
		{"storage error", apperrors.NewStorageError("write failed", errors.New("io")), true},
		{"invalid ratios", apperrors.RatiosDoNotSumToOne([]float64{0.5, 0.5, 0.5}, 1.5), false},
		{"retryable wrapper around invalid input", operations.NewExecutionError("split", apperrors.ErrShapeMismatch, true), false},
		{"cancelled", fmt.Errorf("step: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, operations.IsRetryable(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want operations.ErrorType
	}{
		{"nil", nil, ""},
		{"operation error", operations.NewDependencyError("train", "split", "dependency failed"), operations.ErrorTypeDependency},
		{"validation", apperrors.InvalidRatioCount([]float64{1}), operations.ErrorTypeValidation},
		{"deadline", context.DeadlineExceeded, operations.ErrorTypeTimeout},
		{"cancelled", context.Canceled, operations.ErrorTypeCancellation},
		{"other", errors.New("boom"), operations.ErrorTypeExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, operations.GetErrorType(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, operations.WrapError(nil, "load", "ignored"))

	cause := apperrors.RatioOutOfRange(1, 1.5)
	wrapped := operations.WrapError(cause, "split", "split failed")
	require.NotNil(t, wrapped)
	assert.Equal(t, operations.ErrorTypeValidation, wrapped.Type)
	assert.Equal(t, "split", wrapped.Step)
	assert.False(t, wrapped.Retryable)
	assert.ErrorIs(t, wrapped, apperrors.ErrRatioOutOfRange)

	existing := operations.NewExecutionError("", errors.New("io"), true)
	rewrapped := operations.WrapError(existing, "export", "export failed")
	assert.Same(t, existing, rewrapped)
	assert.Equal(t, "export", rewrapped.Step)
	assert.Equal(t, "export failed: step execution failed", rewrapped.Message)
}

func TestSentinelErrorsMatchWrapped(t *testing.T) {
	err := fmt.Errorf("run %s: %w", "abc", operations.ErrOperationNotFound)
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)
	assert.NotErrorIs(t, err, operations.ErrOperationNotRunning)

	stepErr := operations.NewValidationError("load", "operation not found")
	assert.NotErrorIs(t, stepErr, operations.ErrOperationNotFound)
}

func TestErrorList(t *testing.T) {
	list := &operations.ErrorList{}
	assert.False(t, list.HasErrors())
	assert.Equal(t, "no errors", list.Error())

	list.Add(nil)
	list.Add(operations.NewValidationError("load", "no request"))
	assert.True(t, list.HasErrors())
	assert.Equal(t, "[validation] load: no request", list.Error())

	list.Add(operations.NewFatalError("x", nil))
	assert.Equal(t, "multiple errors: 2 errors occurred", list.Error())
}
