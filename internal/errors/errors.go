package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/priceal/generalized-method-of-moments/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of an inner
// AppError or deriving one from the domain error it carries
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    GetCode(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the code of the outermost AppError, a code derived from a
// domain error, or CodeInternalError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case core.IsShapeError(err):
		return CodeInvalidInput
	case core.IsNumericalError(err):
		return CodeNumerical
	case core.IsOptimizerError(err):
		return CodeNotConverged
	case stderrors.Is(err, core.ErrTableInvalid), stderrors.Is(err, core.ErrSizeNotInTable):
		return CodeTable
	}
	return CodeInternalError
}

// ExitCode maps an error to a process exit status
func ExitCode(err error) int {
	switch GetCode(err) {
	case CodeConfigInvalid, CodeInvalidInput:
		return 2
	case CodeNotConverged:
		return 3
	default:
		return 1
	}
}

// Predefined error codes
const (
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNumerical     = "NUMERICAL_ERROR"
	CodeNotConverged  = "NOT_CONVERGED"
	CodeTable         = "TABLE_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
