package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input shape errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInsufficientData  = errors.New("insufficient data for analysis")
	ErrInvalidSample     = errors.New("invalid sample")

	// Numerical degeneracy errors
	ErrSingularCovariance = errors.New("singular covariance matrix")
	ErrNonFinite          = errors.New("non-finite result")

	// Lookup errors
	ErrTableInvalid   = errors.New("invalid covariance table")
	ErrSizeNotInTable = errors.New("sample size not in covariance table")

	// Optimizer errors
	ErrNotConverged    = errors.New("optimizer did not converge")
	ErrOptimizerFailed = errors.New("optimizer failed")
)

// Error constructors with context
func NewDimensionError(what string, want, got int) error {
	return fmt.Errorf("%w: %s has dimension %d, want %d", ErrDimensionMismatch, what, got, want)
}

func NewInputError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, reason)
}

func NewSampleError(index int, value float64) error {
	return fmt.Errorf("%w: dwell time %d is %v, must be positive and finite", ErrInvalidSample, index, value)
}

func NewSizeNotInTableError(n int, sizes []int) error {
	return fmt.Errorf("%w: N=%d (grid %v)", ErrSizeNotInTable, n, sizes)
}

// Error checking helpers
func IsShapeError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrInvalidSample)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrSingularCovariance) ||
		errors.Is(err, ErrNonFinite)
}

func IsOptimizerError(err error) bool {
	return errors.Is(err, ErrNotConverged) ||
		errors.Is(err, ErrOptimizerFailed)
}
