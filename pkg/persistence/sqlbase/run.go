package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence"
)

// RunRepository handles run-related database operations.
type RunRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewRunRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, dialect: dialect, logger: logger}
}

func (r *RunRepository) Save(ctx context.Context, run *models.PipelineRun) error {
	document, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, fmt.Errorf("failed to marshal run: %w", err))
	}

	query := `
		INSERT INTO pipeline_runs (id, pipeline_id, status, document, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			ended_at = EXCLUDED.ended_at
	`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		run.ID,
		run.PipelineID,
		string(run.Status),
		string(document),
		run.StartedAt,
		run.EndedAt,
	)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.PipelineRun, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind("SELECT document FROM pipeline_runs WHERE id = ?"), id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	var run models.PipelineRun
	if err := json.Unmarshal(document, &run); err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

func (r *RunRepository) List(ctx context.Context, pipelineID string) ([]*models.PipelineRun, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if pipelineID == "" {
		rows, err = r.db.QueryContext(ctx, "SELECT document FROM pipeline_runs ORDER BY started_at DESC")
	} else {
		rows, err = r.db.QueryContext(ctx,
			r.dialect.Rebind("SELECT document FROM pipeline_runs WHERE pipeline_id = ? ORDER BY started_at DESC"), pipelineID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.PipelineRun, 0)

	for rows.Next() {
		var document []byte

		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		var run models.PipelineRun
		if err := json.Unmarshal(document, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
