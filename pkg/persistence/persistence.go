// Package persistence provides the record store abstraction for pipelines and runs.
package persistence

import (
	"context"

	"github.com/kbforge/kbforge/pkg/models"
)

type Persistence interface {
	PipelineRepository() PipelineRepository
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// PipelineRepository stores pipeline definitions.
type PipelineRepository interface {
	// GetAll returns every pipeline, newest first.
	GetAll(ctx context.Context) ([]*models.Pipeline, error)
	// GetByID returns ErrPipelineNotFound when no pipeline has the id.
	GetByID(ctx context.Context, id string) (*models.Pipeline, error)
	Save(ctx context.Context, pipeline *models.Pipeline) error
	Delete(ctx context.Context, id string) error
}

// RunRepository stores finished runs.
type RunRepository interface {
	Save(ctx context.Context, run *models.PipelineRun) error
	// GetByID returns ErrRunNotFound when no run has the id.
	GetByID(ctx context.Context, id string) (*models.PipelineRun, error)
	// List returns runs newest first, all runs when pipelineID is empty.
	List(ctx context.Context, pipelineID string) ([]*models.PipelineRun, error)
}
