package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence"
)

const runsDir = "runs"

// RunRepository stores runs as <root>/runs/<id>.json.
type RunRepository struct {
	store *jsonStore
}

func (r *RunRepository) Save(_ context.Context, run *models.PipelineRun) error {
	if err := r.store.write(runsDir, run.ID, run); err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*models.PipelineRun, error) {
	var run models.PipelineRun

	err := r.store.read(runsDir, id, &run)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

// List scans every run file and filters by pipeline.
func (r *RunRepository) List(ctx context.Context, pipelineID string) ([]*models.PipelineRun, error) {
	ids, err := r.store.ids(runsDir)
	if err != nil {
		return nil, err
	}

	runs := make([]*models.PipelineRun, 0, len(ids))

	for _, id := range ids {
		run, err := r.GetByID(ctx, id)
		if persistence.IsRunNotFound(err) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", id, err)
		}

		if pipelineID != "" && run.PipelineID != pipelineID {
			continue
		}

		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}
