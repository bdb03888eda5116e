package services

import (
	"context"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
)

// ExecutionMetrics summarises every known pipeline and run.
type ExecutionMetrics struct {
	TotalPipelines    int                           `json:"total_pipelines"`
	PipelinesByStatus map[models.PipelineStatus]int `json:"pipelines_by_status"`
	TotalExecutions   int                           `json:"total_executions"`
	RunsByStatus      map[models.RunStatus]int      `json:"runs_by_status"`
	RunningExecutions int                           `json:"running_executions"`
	AverageDurationMs float64                       `json:"average_duration_ms"`
	SuccessRate       float64                       `json:"success_rate"`
	RunsLast24h       int                           `json:"runs_last_24h"`
}

// PipelineHealth reports the recent run history of one pipeline.
type PipelineHealth struct {
	PipelineID        string            `json:"pipeline_id"`
	LastRunStatus     *models.RunStatus `json:"last_run_status,omitempty"`
	LastRunAt         *time.Time        `json:"last_run_at,omitempty"`
	FailuresLast24h   int               `json:"failures_last_24h"`
	SuccessRate       float64           `json:"success_rate"`
	AverageDurationMs float64           `json:"average_duration_ms"`
	RunsLast7d        int               `json:"runs_last_7d"`
}

// GetExecutionMetrics aggregates over the pipeline and run indices.
func (p *Pipeline) GetExecutionMetrics(ctx context.Context) (*ExecutionMetrics, error) {
	pipelines, err := p.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	runs, err := p.ListRuns(ctx, nil)
	if err != nil {
		return nil, err
	}

	metrics := &ExecutionMetrics{
		TotalPipelines:    len(pipelines),
		PipelinesByStatus: make(map[models.PipelineStatus]int),
		TotalExecutions:   len(runs),
		RunsByStatus:      make(map[models.RunStatus]int),
	}

	for _, pipeline := range pipelines {
		metrics.PipelinesByStatus[pipeline.Status]++
	}

	since := p.now().Add(-24 * time.Hour)

	for _, run := range runs {
		metrics.RunsByStatus[run.Status]++

		if run.Status == models.RunStatusRunning {
			metrics.RunningExecutions++
		}

		if run.StartedAt.After(since) {
			metrics.RunsLast24h++
		}
	}

	metrics.SuccessRate = successRate(runs)
	metrics.AverageDurationMs = averageDuration(runs)

	return metrics, nil
}

// GetPipelineHealth reports the last run, Failed runs of the last day and the
// success rate and mean duration over every run of the last week.
func (p *Pipeline) GetPipelineHealth(ctx context.Context, id string) (*PipelineHealth, error) {
	if _, err := p.GetPipeline(ctx, id); err != nil {
		return nil, err
	}

	runs, err := p.ListRuns(ctx, &id)
	if err != nil {
		return nil, err
	}

	now := p.now()
	day := now.Add(-24 * time.Hour)
	week := now.Add(-7 * 24 * time.Hour)

	health := &PipelineHealth{PipelineID: id}

	if len(runs) > 0 {
		last := runs[0]
		health.LastRunStatus = &last.Status
		health.LastRunAt = &last.StartedAt
	}

	recent := make([]*models.PipelineRun, 0, len(runs))

	for _, run := range runs {
		if run.StartedAt.After(day) && run.Status == models.RunStatusFailed {
			health.FailuresLast24h++
		}

		if run.StartedAt.After(week) {
			recent = append(recent, run)
		}
	}

	health.RunsLast7d = len(recent)

	if len(recent) > 0 {
		var completed int

		var total uint64

		for _, run := range recent {
			if run.Status == models.RunStatusCompleted {
				completed++
			}

			if run.Metrics.DurationMs != nil {
				total += *run.Metrics.DurationMs
			}
		}

		// Every run of the window counts, whatever its status.
		health.SuccessRate = 100 * float64(completed) / float64(len(recent))
		health.AverageDurationMs = float64(total) / float64(len(recent))
	}

	return health, nil
}

// successRate is 100·completed/(completed+failed), or 0 when no run finished
// either way. Cancelled and timed out runs count neither way.
func successRate(runs []*models.PipelineRun) float64 {
	var completed, failed int

	for _, run := range runs {
		switch run.Status {
		case models.RunStatusCompleted:
			completed++
		case models.RunStatusFailed:
			failed++
		default:
		}
	}

	if completed+failed == 0 {
		return 0
	}

	return 100 * float64(completed) / float64(completed+failed)
}

// averageDuration is the total duration of completed runs over their count.
func averageDuration(runs []*models.PipelineRun) float64 {
	var total uint64

	count := 0

	for _, run := range runs {
		if run.Status != models.RunStatusCompleted {
			continue
		}

		count++

		if run.Metrics.DurationMs != nil {
			total += *run.Metrics.DurationMs
		}
	}

	if count == 0 {
		return 0
	}

	return float64(total) / float64(count)
}
