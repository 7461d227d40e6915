package errors

import (
	"errors"
	"fmt"
)

// Dataset validation failures. Callers match them with errors.Is; the
// returned errors wrap them with the offending values.
var (
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrInvalidRatioCount   = errors.New("invalid ratio count")
	ErrRatiosDoNotSumToOne = errors.New("ratios do not sum to one")
	ErrRatioOutOfRange     = errors.New("ratio out of range")

	// ErrEmptyDataset is reported as a warning, never returned by the core
	ErrEmptyDataset = errors.New("empty dataset")
)

// ShapeMismatch reports paired sequences of different lengths
func ShapeMismatch(what string, left, right int) error {
	return fmt.Errorf("%w: %s has %d rows against %d", ErrShapeMismatch, what, left, right)
}

// InvalidRatioCount reports a ratio list without exactly three entries
func InvalidRatioCount(ratios []float64) error {
	return fmt.Errorf("%w: expected 3 ratios (train, eval, test), got %d %v", ErrInvalidRatioCount, len(ratios), ratios)
}

// RatiosDoNotSumToOne reports ratios whose sum is not 1.0
func RatiosDoNotSumToOne(ratios []float64, sum float64) error {
	return fmt.Errorf("%w: %v sums to %v", ErrRatiosDoNotSumToOne, ratios, sum)
}

// RatioOutOfRange reports a ratio outside [0,1]
func RatioOutOfRange(index int, ratio float64) error {
	return fmt.Errorf("%w: ratio %d is %v, must be within [0,1]", ErrRatioOutOfRange, index, ratio)
}

// EmptyDatasetWarning describes a zero-row input to an operation
func EmptyDatasetWarning(operation string) error {
	return fmt.Errorf("%w: %s received zero rows", ErrEmptyDataset, operation)
}

// IsValidation reports whether err stems from invalid caller input
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrTypeValidation {
		return true
	}
	return errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrInvalidRatioCount) ||
		errors.Is(err, ErrRatiosDoNotSumToOne) ||
		errors.Is(err, ErrRatioOutOfRange)
}
