package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/executor"
	"github.com/kbforge/kbforge/pkg/log"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/template"
)

// ExecutePipeline validates the pipeline, records a Pending run and starts it
// in the background. The returned run is a snapshot; poll GetRun for progress.
// Step failures never surface here, they are recorded on the run.
func (p *Pipeline) ExecutePipeline(ctx context.Context, id string, params map[string]any, trigger models.RunTrigger) (*models.PipelineRun, error) {
	pipeline, err := p.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	if pipeline.Status == models.PipelineStatusArchived {
		return nil, &ServiceError{
			Op:      "ExecutePipeline",
			Code:    "pipeline_archived",
			Message: fmt.Sprintf("pipeline %s is archived", id),
			Err:     ErrPipelineInactive,
		}
	}

	result := p.ValidateSpec(ctx, pipeline)
	if !result.IsValid {
		return nil, models.NewValidationFailedError(result.Messages())
	}

	effective, err := EffectiveParameters(pipeline.Spec, params)
	if err != nil {
		return nil, err
	}

	run := models.NewPipelineRun(pipeline.ID, trigger, effective)
	run.Metrics.StepsTotal = uint32(len(pipeline.Spec.Steps))

	runCtx, cancel := context.WithCancel(p.baseCtx)

	p.mu.Lock()

	if p.maxRunsPerPipeline > 0 {
		if active := p.activeRunsLocked(pipeline.ID); active >= p.maxRunsPerPipeline {
			p.mu.Unlock()
			cancel()

			return nil, models.NewResourceLimitError(
				fmt.Sprintf("pipeline %s already has %d active runs (limit %d)", pipeline.ID, active, p.maxRunsPerPipeline))
		}
	}

	p.runs[run.ID] = &runEntry{run: run, cancel: cancel}
	snapshot := run.Clone()
	p.wg.Add(1)

	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Pipeline run queued", "pipeline_id", pipeline.ID, "run_id", run.ID, "trigger", trigger.Type)

	p.publish(ctx, run.ID, events.RunStarted{
		BaseEvent:  events.NewBaseEvent(events.RunStartedEvent, pipeline.ID, run.ID),
		Trigger:    trigger,
		StepsTotal: run.Metrics.StepsTotal,
	})

	go p.runPipeline(runCtx, cancel, pipeline, run.ID, effective)

	return snapshot, nil
}

// EffectiveParameters overlays params on the declared defaults and checks
// every declared parameter. All violations are returned together.
func EffectiveParameters(spec models.PipelineSpec, params map[string]any) (map[string]any, error) {
	effective := spec.ParameterDefaults()
	for key, value := range params {
		effective[key] = value
	}

	names := make([]string, 0, len(spec.Parameters))
	for name := range spec.Parameters {
		names = append(names, name)
	}

	sort.Strings(names)

	var errs []error

	for _, name := range names {
		if err := spec.Parameters[name].Validate(effective[name]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return effective, nil
}

func (p *Pipeline) activeRunsLocked(pipelineID string) int {
	active := 0

	for _, entry := range p.runs {
		if entry.run.PipelineID == pipelineID && !entry.run.Status.IsTerminal() {
			active++
		}
	}

	return active
}

func (p *Pipeline) runPipeline(ctx context.Context, cancel context.CancelFunc, pipeline *models.Pipeline, runID string, params map[string]any) {
	defer p.wg.Done()
	defer cancel()

	logger := log.WithRun(p.logger, pipeline.ID, runID)

	p.mu.Lock()
	entry := p.runs[runID]
	cancelledEarly := entry.run.Status == models.RunStatusCancelled

	if !cancelledEarly {
		entry.run.Status = models.RunStatusRunning
	}
	p.mu.Unlock()

	if cancelledEarly {
		p.persistRun(ctx, runID)

		return
	}

	// Placeholders the template left unresolved may be filled by run parameters.
	runnable := clonePipeline(pipeline)
	for _, step := range runnable.Spec.Steps {
		step.Config = template.SubstituteParameters(step.Config, params)
	}

	result := p.executor.Execute(ctx, &protocol.ExecutionContext{
		RunID:      runID,
		PipelineID: pipeline.ID,
		Pipeline:   runnable,
		Parameters: params,
		Logger:     logger,
	})

	p.mu.Lock()
	applyResult(entry.run, result, p.now())
	entry.cancel = nil
	p.mu.Unlock()

	logger.InfoContext(ctx, "Pipeline run finished", "status", result.Status, "steps_completed", result.StepsCompleted)

	p.persistRun(ctx, runID)
	p.touchLastRun(ctx, pipeline.ID)
}

// applyResult writes the executor outcome onto run. A run cancelled through
// CancelExecution keeps its status and end time.
func applyResult(run *models.PipelineRun, result *executor.ExecutionResult, now time.Time) {
	if run.Status != models.RunStatusCancelled {
		run.Status = result.Status
		run.ErrorMessage = result.ErrorMessage
		run.EndedAt = &now
	}

	duration := uint64(result.TotalDuration.Milliseconds())
	records := result.RecordsProcessed
	data := result.DataProcessed

	run.StepRuns = result.StepRuns
	run.Outputs = result.Outputs
	run.Warnings = result.Warnings
	run.Metrics.StepsCompleted = result.StepsCompleted
	run.Metrics.StepsFailed = result.StepsFailed
	run.Metrics.StepsSkipped = run.Metrics.StepsTotal - result.StepsCompleted - result.StepsFailed
	run.Metrics.DurationMs = &duration
	run.Metrics.RecordsProcessed = &records
	run.Metrics.DataProcessed = &data
}

// persistRun stores a snapshot of the run. It uses a detached context since
// the run context is already cancelled for cancelled runs.
func (p *Pipeline) persistRun(ctx context.Context, runID string) {
	p.mu.RLock()
	snapshot := p.runs[runID].run.Clone()
	p.mu.RUnlock()

	if err := p.persistence.RunRepository().Save(context.WithoutCancel(ctx), snapshot); err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist run", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) touchLastRun(ctx context.Context, pipelineID string) {
	now := p.now()

	p.mu.Lock()
	current, ok := p.pipelines[pipelineID]
	if !ok {
		p.mu.Unlock()

		return
	}

	updated := clonePipeline(current)
	updated.LastRunAt = &now
	p.pipelines[pipelineID] = updated
	p.mu.Unlock()

	if err := p.persistence.PipelineRepository().Save(context.WithoutCancel(ctx), updated); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record last run time", "pipeline_id", pipelineID, "error", err)
	}
}

// CancelExecution marks the run Cancelled and stops it at the next step
// boundary. In-flight steps see their context cancelled.
func (p *Pipeline) CancelExecution(ctx context.Context, runID string) error {
	p.mu.Lock()

	entry, ok := p.runs[runID]
	if !ok {
		p.mu.Unlock()

		stored, err := p.persistence.RunRepository().GetByID(ctx, runID)
		if err != nil {
			return runNotFoundOrErr(runID, err)
		}

		// Only finished runs reach the record store.
		return newInvalidRunStateError(runID, stored.Status)
	}

	if entry.run.Status.IsTerminal() {
		status := entry.run.Status
		p.mu.Unlock()

		return newInvalidRunStateError(runID, status)
	}

	now := p.now()
	message := models.NewCancelledError().Error()

	entry.run.Status = models.RunStatusCancelled
	entry.run.EndedAt = &now
	entry.run.ErrorMessage = &message
	cancel := entry.cancel
	pipelineID := entry.run.PipelineID

	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	p.logger.InfoContext(ctx, "Pipeline run cancelled", "pipeline_id", pipelineID, "run_id", runID)

	p.publish(ctx, runID, events.RunCancelled{
		BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, pipelineID, runID),
	})

	return nil
}

// GetRun returns a snapshot of the run from the index or the record store.
func (p *Pipeline) GetRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	p.mu.RLock()
	entry, ok := p.runs[runID]

	var snapshot *models.PipelineRun
	if ok {
		snapshot = entry.run.Clone()
	}
	p.mu.RUnlock()

	if ok {
		return snapshot, nil
	}

	run, err := p.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, runNotFoundOrErr(runID, err)
	}

	return run, nil
}

// ListRuns returns runs newest first, restricted to one pipeline when
// pipelineID is set. Historical runs come from the record store.
func (p *Pipeline) ListRuns(ctx context.Context, pipelineID *string) ([]*models.PipelineRun, error) {
	filter := ""
	if pipelineID != nil {
		filter = *pipelineID
	}

	stored, err := p.persistence.RunRepository().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	byID := make(map[string]*models.PipelineRun, len(stored))
	for _, run := range stored {
		byID[run.ID] = run
	}

	p.mu.RLock()
	for id, entry := range p.runs {
		if pipelineID == nil || entry.run.PipelineID == *pipelineID {
			byID[id] = entry.run.Clone()
		}
	}
	p.mu.RUnlock()

	runs := make([]*models.PipelineRun, 0, len(byID))
	for _, run := range byID {
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}

		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// Wait blocks until every background run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels in-flight runs and waits for them to record their outcome.
func (p *Pipeline) Close(ctx context.Context) error {
	p.cancelAll()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs to stop: %w", ctx.Err())
	}
}
