// Package services implements the pipeline lifecycle service on top of the
// record store and the executor.
package services

import (
	"errors"
	"fmt"

	"github.com/kbforge/kbforge/pkg/models"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPipelineNameRequired = errors.New("pipeline name is required")
	ErrInvalidStatus        = errors.New("invalid pipeline status")

	// Business Logic Conflicts (409 Conflict).
	ErrInvalidRunState  = errors.New("invalid run state")
	ErrPipelineInactive = errors.New("pipeline is not active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrPipelineNameRequired) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, models.ErrValidationFailed) ||
		errors.Is(err, models.ErrInvalidStepConfig) ||
		errors.Is(err, models.ErrParameterValidationFailed) ||
		errors.Is(err, models.ErrDependency)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidRunState) ||
		errors.Is(err, ErrPipelineInactive)
}

// IsResourceLimitError reports a run rejected by the concurrency cap (HTTP 429).
func IsResourceLimitError(err error) bool {
	return errors.Is(err, models.ErrResourceLimitExceeded)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func newInvalidRunStateError(runID string, status models.RunStatus) *ServiceError {
	return &ServiceError{
		Op:      "CancelExecution",
		Code:    "invalid_run_state",
		Message: fmt.Sprintf("run %s is already %s", runID, status),
		Err:     ErrInvalidRunState,
	}
}
