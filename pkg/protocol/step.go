// Package protocol defines the interfaces and contracts for pluggable step executors
// and the collaborators they depend on.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
)

// ExecutionContext is shared by every step of a single run.
type ExecutionContext struct {
	RunID      string
	PipelineID string
	Pipeline   *models.Pipeline
	Parameters map[string]any
	Logger     *slog.Logger
}

// StepExecutor runs one kind of step.
type StepExecutor interface {
	// Type returns the step kind this executor handles
	Type() models.StepType

	// Name returns the human-readable name for this step kind
	Name() string

	// Description returns a description of what this step does
	Description() string

	// Schema returns the JSON schema for the step config, nil when unconstrained
	Schema() map[string]any

	// Execute runs the step. A returned error means the step could not run at
	// all; a Failed result means it ran and decided the pipeline must stop.
	Execute(ctx context.Context, step *models.PipelineStep, execCtx *ExecutionContext, inputs models.StepInputs) (*StepResult, error)
}

// StepResult is what an executor reports for one step.
type StepResult struct {
	StepID       string             `json:"step_id"`
	Status       models.RunStatus   `json:"status"`
	Output       any                `json:"output,omitempty"`
	ErrorMessage *string            `json:"error_message,omitempty"`
	Metrics      models.StepMetrics `json:"metrics"`
	Duration     time.Duration      `json:"duration"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// Completed builds a successful result.
func Completed(step *models.PipelineStep, started time.Time, output any, records uint64) *StepResult {
	return &StepResult{
		StepID:   step.ID,
		Status:   models.RunStatusCompleted,
		Output:   output,
		Metrics:  models.StepMetrics{RecordsProcessed: &records},
		Duration: time.Since(started),
	}
}

// Failed builds a result for a step that ran but did not meet its contract.
func Failed(step *models.PipelineStep, started time.Time, message string) *StepResult {
	return &StepResult{
		StepID:       step.ID,
		Status:       models.RunStatusFailed,
		ErrorMessage: &message,
		Duration:     time.Since(started),
	}
}
