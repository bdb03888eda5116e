package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence"
)

// PipelineRepository handles pipeline-related database operations. The full
// pipeline is kept as a JSON document; name and status are copied into
// columns for filtering.
type PipelineRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewPipelineRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *PipelineRepository {
	return &PipelineRepository{db: db, dialect: dialect, logger: logger}
}

// GetAll returns all pipelines from the database.
func (r *PipelineRepository) GetAll(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM pipelines ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	pipelines := make([]*models.Pipeline, 0)

	for rows.Next() {
		var document []byte

		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}

		var pipeline models.Pipeline
		if err := json.Unmarshal(document, &pipeline); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pipeline: %w", err)
		}

		pipelines = append(pipelines, &pipeline)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipelines: %w", err)
	}

	return pipelines, nil
}

func (r *PipelineRepository) GetByID(ctx context.Context, id string) (*models.Pipeline, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind("SELECT document FROM pipelines WHERE id = ?"), id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewPipelineError("GetByID", id, persistence.ErrPipelineNotFound)
	}

	if err != nil {
		return nil, persistence.NewPipelineError("GetByID", id, err)
	}

	var pipeline models.Pipeline
	if err := json.Unmarshal(document, &pipeline); err != nil {
		return nil, persistence.NewPipelineError("GetByID", id, err)
	}

	return &pipeline, nil
}

// Save upserts the pipeline.
func (r *PipelineRepository) Save(ctx context.Context, pipeline *models.Pipeline) error {
	now := time.Now().UTC()

	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = now
	}

	if pipeline.UpdatedAt.IsZero() {
		pipeline.UpdatedAt = now
	}

	document, err := json.Marshal(pipeline)
	if err != nil {
		return persistence.NewPipelineError("Save", pipeline.ID, fmt.Errorf("failed to marshal pipeline: %w", err))
	}

	query := `
		INSERT INTO pipelines (id, name, status, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		pipeline.ID,
		pipeline.Name,
		string(pipeline.Status),
		string(document),
		pipeline.CreatedAt,
		pipeline.UpdatedAt,
	)
	if err != nil {
		return persistence.NewPipelineError("Save", pipeline.ID, err)
	}

	return nil
}

func (r *PipelineRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind("DELETE FROM pipelines WHERE id = ?"), id)
	if err != nil {
		return persistence.NewPipelineError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewPipelineError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewPipelineError("Delete", id, persistence.ErrPipelineNotFound)
	}

	return nil
}
