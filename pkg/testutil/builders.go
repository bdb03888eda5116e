// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/kbforge/kbforge/pkg/models"
)

// CreateTestStep creates a test PipelineStep with default values that can be overridden.
func CreateTestStep(id string, stepType models.StepType, overrides ...func(*models.PipelineStep)) *models.PipelineStep {
	step := &models.PipelineStep{
		ID:           id,
		Name:         id,
		Type:         stepType,
		Config:       map[string]any{},
		Inputs:       []*models.StepInput{},
		Outputs:      []*models.StepOutput{},
		Dependencies: []string{},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithDependencies sets the step dependencies.
func WithDependencies(deps ...string) func(*models.PipelineStep) {
	return func(s *models.PipelineStep) {
		s.Dependencies = deps
	}
}

// WithStepConfig sets the step configuration.
func WithStepConfig(config map[string]any) func(*models.PipelineStep) {
	return func(s *models.PipelineStep) {
		s.Config = config
	}
}

// WithSourcedInput adds a required input fed by the whole output of source.
func WithSourcedInput(name, source string) func(*models.PipelineStep) {
	return func(s *models.PipelineStep) {
		s.Inputs = append(s.Inputs, &models.StepInput{
			Name:     name,
			Type:     models.StepIOTypeData,
			Required: true,
			Source:   &source,
		})
	}
}

// CreateTestPipeline creates an active pipeline holding the given steps.
func CreateTestPipeline(steps ...*models.PipelineStep) *models.Pipeline {
	pipeline := models.NewPipeline("Test Pipeline", "A pipeline for testing")
	pipeline.Status = models.PipelineStatusActive
	pipeline.Spec.Steps = steps
	pipeline.Tags = []string{"test"}

	return pipeline
}

// CreateLinearPipeline chains the given step kinds, each consuming the previous output.
func CreateLinearPipeline(types ...models.StepType) *models.Pipeline {
	steps := make([]*models.PipelineStep, 0, len(types))

	for i, stepType := range types {
		id := string(stepType)
		if i == 0 {
			steps = append(steps, CreateTestStep(id, stepType))

			continue
		}

		prev := steps[i-1].ID
		steps = append(steps, CreateTestStep(id, stepType, WithDependencies(prev), WithSourcedInput(prev, prev)))
	}

	return CreateTestPipeline(steps...)
}

// CreateTestRun creates a finished run for pipelineID.
func CreateTestRun(pipelineID string, status models.RunStatus, startedAt time.Time) *models.PipelineRun {
	ended := startedAt.Add(time.Second)
	duration := uint64(1000)

	return &models.PipelineRun{
		ID:          uuid.New().String(),
		PipelineID:  pipelineID,
		StartedAt:   startedAt,
		EndedAt:     &ended,
		Status:      status,
		StepRuns:    []*models.StepRun{},
		TriggeredBy: models.NewManualTrigger("test"),
		Parameters:  map[string]any{},
		Metrics:     models.RunMetrics{DurationMs: &duration},
	}
}
