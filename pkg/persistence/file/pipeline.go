package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence"
)

const pipelinesDir = "pipelines"

// PipelineRepository stores pipelines as <root>/pipelines/<id>.json.
type PipelineRepository struct {
	store *jsonStore
}

// GetAll returns every stored pipeline, newest first.
func (r *PipelineRepository) GetAll(ctx context.Context) ([]*models.Pipeline, error) {
	ids, err := r.store.ids(pipelinesDir)
	if err != nil {
		return nil, err
	}

	pipelines := make([]*models.Pipeline, 0, len(ids))

	for _, id := range ids {
		pipeline, err := r.GetByID(ctx, id)
		if persistence.IsPipelineNotFound(err) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load pipeline %s: %w", id, err)
		}

		pipelines = append(pipelines, pipeline)
	}

	sort.SliceStable(pipelines, func(i, j int) bool {
		return pipelines[i].CreatedAt.After(pipelines[j].CreatedAt)
	})

	return pipelines, nil
}

// GetByID retrieves a pipeline by its ID from the file system.
func (r *PipelineRepository) GetByID(_ context.Context, id string) (*models.Pipeline, error) {
	var pipeline models.Pipeline

	err := r.store.read(pipelinesDir, id, &pipeline)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewPipelineError("GetByID", id, persistence.ErrPipelineNotFound)
	}

	if err != nil {
		return nil, persistence.NewPipelineError("GetByID", id, err)
	}

	return &pipeline, nil
}

// Save writes the pipeline, stamping CreatedAt on first save.
func (r *PipelineRepository) Save(_ context.Context, pipeline *models.Pipeline) error {
	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = time.Now().UTC()
	}

	if err := r.store.write(pipelinesDir, pipeline.ID, pipeline); err != nil {
		return persistence.NewPipelineError("Save", pipeline.ID, err)
	}

	return nil
}

// Delete removes a pipeline by its ID.
func (r *PipelineRepository) Delete(_ context.Context, id string) error {
	removed, err := r.store.remove(pipelinesDir, id)
	if err != nil {
		return persistence.NewPipelineError("Delete", id, err)
	}

	if !removed {
		return persistence.NewPipelineError("Delete", id, persistence.ErrPipelineNotFound)
	}

	return nil
}
