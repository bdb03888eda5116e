package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrPipelineNotFound indicates a pipeline was not found by the given identifier.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")
)

// RecordError wraps a repository failure with the operation and record involved.
type RecordError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	Entity string // "pipeline" or "run"
	ID     string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewPipelineError(op, pipelineID string, err error) *RecordError {
	return &RecordError{Op: op, Entity: "pipeline", ID: pipelineID, Err: err}
}

func NewRunError(op, runID string, err error) *RecordError {
	return &RecordError{Op: op, Entity: "run", ID: runID, Err: err}
}

// IsPipelineNotFound checks if an error indicates a pipeline was not found.
func IsPipelineNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
