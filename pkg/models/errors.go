package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared by the engine. Every error produced by pipeline code
// matches exactly one of these with errors.Is.
var (
	// User input and structure.
	ErrNotFound                  = errors.New("not found")
	ErrTemplateNotFound          = errors.New("template not found")
	ErrValidationFailed          = errors.New("pipeline validation failed")
	ErrInvalidStepConfig         = errors.New("invalid step configuration")
	ErrParameterValidationFailed = errors.New("parameter validation failed")
	ErrDependency                = errors.New("dependency error")

	// Model dependency. These always carry a fallback model.
	ErrModelNotAvailable = errors.New("model not available")
	ErrModelError        = errors.New("model error")

	// Execution terminal. Recorded on runs, never returned by ExecutePipeline.
	ErrExecutionFailed = errors.New("execution failed")
	ErrTimeout         = errors.New("timeout")
	ErrCancelled       = errors.New("execution cancelled")

	ErrStepNotImplemented    = errors.New("step type not implemented")
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")

	// Wrapped infrastructure failures.
	ErrIO            = errors.New("io error")
	ErrSerialization = errors.New("serialization error")
	ErrDatabase      = errors.New("database error")
	ErrStorage       = errors.New("storage error")
	ErrCache         = errors.New("cache error")
	ErrEmbedding     = errors.New("embedding error")
	ErrInternal      = errors.New("internal error")
)

// PipelineError carries an error kind plus the context each kind reports.
type PipelineError struct {
	Kind       error  // One of the Err* sentinels above
	Subject    string // Pipeline, template, step, parameter or model id
	StepID     string // Step the error is attributed to, when Subject is its name
	Message    string
	Suggestion string
	Fallback   string // Fallback model for model errors
	Err        error  // Underlying cause
}

func (e *PipelineError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("%s not found: %s", e.Message, e.Subject)
	case ErrTemplateNotFound, ErrStepNotImplemented:
		return fmt.Sprintf("%v: %s", e.Kind, e.Subject)
	case ErrInvalidStepConfig:
		return fmt.Sprintf("invalid step configuration for '%s': %s", e.Subject, e.Message)
	case ErrParameterValidationFailed:
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Subject, e.Message)
	case ErrModelNotAvailable:
		return fmt.Sprintf("%v: %s - %s (fallback: %s)", e.Kind, e.Subject, e.Suggestion, e.Fallback)
	case ErrModelError:
		return fmt.Sprintf("model error for %s: %s - fallback: %s", e.Subject, e.Message, e.Fallback)
	case ErrExecutionFailed:
		return fmt.Sprintf("execution failed at step '%s': %s", e.Subject, e.Message)
	case ErrTimeout:
		if e.StepID != "" && e.StepID != e.Subject {
			return fmt.Sprintf("step '%s' (%s) %s", e.Subject, e.StepID, e.Message)
		}

		return fmt.Sprintf("step '%s' %s", e.Subject, e.Message)
	}

	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches both the error kind and the underlying cause.
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Kind, target) || (e.Err != nil && errors.Is(e.Err, target))
}

func NewNotFoundError(pipelineID string) *PipelineError {
	return &PipelineError{Kind: ErrNotFound, Subject: pipelineID, Message: "pipeline"}
}

func NewRunNotFoundError(runID string) *PipelineError {
	return &PipelineError{Kind: ErrNotFound, Subject: runID, Message: "run"}
}

func NewTemplateNotFoundError(templateID string) *PipelineError {
	return &PipelineError{Kind: ErrTemplateNotFound, Subject: templateID}
}

// NewValidationFailedError joins every collected problem into one error.
func NewValidationFailedError(details []string) *PipelineError {
	return &PipelineError{Kind: ErrValidationFailed, Message: strings.Join(details, "; ")}
}

func NewInvalidStepConfigError(stepName, reason string) *PipelineError {
	return &PipelineError{Kind: ErrInvalidStepConfig, Subject: stepName, Message: reason}
}

func NewParameterValidationError(parameter, reason string) *PipelineError {
	return &PipelineError{Kind: ErrParameterValidationFailed, Subject: parameter, Message: reason}
}

func NewDependencyError(message string) *PipelineError {
	return &PipelineError{Kind: ErrDependency, Message: message}
}

func NewModelNotAvailableError(modelID, suggestion, fallback string) *PipelineError {
	return &PipelineError{Kind: ErrModelNotAvailable, Subject: modelID, Suggestion: suggestion, Fallback: fallback}
}

func NewModelError(modelID, message, fallback string) *PipelineError {
	return &PipelineError{Kind: ErrModelError, Subject: modelID, Message: message, Fallback: fallback}
}

func NewExecutionFailedError(stepID, message string) *PipelineError {
	return &PipelineError{Kind: ErrExecutionFailed, Subject: stepID, Message: message}
}

// NewTimeoutError names the step and the timeout it exceeded.
func NewTimeoutError(stepName, stepID string, seconds uint64) *PipelineError {
	return &PipelineError{
		Kind:    ErrTimeout,
		Subject: stepName,
		StepID:  stepID,
		Message: fmt.Sprintf("timed out after %d seconds", seconds),
	}
}

func NewCancelledError() *PipelineError {
	return &PipelineError{Kind: ErrCancelled}
}

func NewStepNotImplementedError(stepType StepType) *PipelineError {
	return &PipelineError{Kind: ErrStepNotImplemented, Subject: string(stepType)}
}

func NewResourceLimitError(message string) *PipelineError {
	return &PipelineError{Kind: ErrResourceLimitExceeded, Message: message}
}

// WrapError attaches an infrastructure kind (ErrIO, ErrStorage, ...) to err.
func WrapError(kind error, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// IsPermanent reports errors that a retry cannot fix: bad input, missing
// models and unimplemented steps.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInvalidStepConfig) ||
		errors.Is(err, ErrParameterValidationFailed) ||
		errors.Is(err, ErrDependency) ||
		errors.Is(err, ErrModelNotAvailable) ||
		errors.Is(err, ErrModelError) ||
		errors.Is(err, ErrStepNotImplemented)
}

// IsNotFound reports whether err means a pipeline, run or template is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTemplateNotFound)
}
