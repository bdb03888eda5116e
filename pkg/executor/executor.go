// Package executor runs a pipeline's steps in dependency order.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/kbforge/kbforge/pkg/cache"
	"github.com/kbforge/kbforge/pkg/dag"
	"github.com/kbforge/kbforge/pkg/eventbus"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/log"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/otelhelper"
	"github.com/kbforge/kbforge/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// StepSource resolves executors by step kind.
type StepSource interface {
	Get(stepType models.StepType) (protocol.StepExecutor, error)
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	Status           models.RunStatus
	StepsCompleted   uint32
	StepsFailed      uint32
	TotalDuration    time.Duration
	ErrorMessage     *string
	Outputs          map[string]any
	StepRuns         []*models.StepRun
	RecordsProcessed uint64
	DataProcessed    uint64
	Warnings         []string
}

type Executor struct {
	steps     StepSource
	logger    *slog.Logger
	tracer    trace.Tracer
	cache     cache.Cache
	cacheTTL  time.Duration
	publisher eventbus.EventPublisher
}

type Option func(*Executor)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// WithCache reuses outputs of earlier identical step invocations for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Executor) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithPublisher emits run and step events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		if publisher != nil {
			e.publisher = publisher
		}
	}
}

func New(steps StepSource, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		steps:     steps,
		logger:    logger.With("module", "executor"),
		tracer:    otelhelper.Tracer("kbforge/executor"),
		publisher: eventbus.Nop{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs every step of execCtx.Pipeline. Step failures are reported in
// the result, never as an error. Cancelling ctx stops the run before the next
// dispatch and aborts in-flight steps.
func (e *Executor) Execute(ctx context.Context, execCtx *protocol.ExecutionContext) *ExecutionResult {
	started := time.Now()
	pipeline := execCtx.Pipeline

	if execCtx.Logger == nil {
		execCtx.Logger = log.WithRun(e.logger, execCtx.PipelineID, execCtx.RunID)
	}

	ctx = log.WithLogger(ctx, execCtx.Logger)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.run",
		attribute.String(otelhelper.PipelineIDKey, execCtx.PipelineID),
		attribute.String(otelhelper.PipelineNameKey, pipeline.Name),
		attribute.String(otelhelper.RunIDKey, execCtx.RunID),
	)
	defer span.End()

	run := &runState{
		result: &ExecutionResult{
			Status:   models.RunStatusRunning,
			Outputs:  make(map[string]any),
			StepRuns: make([]*models.StepRun, 0, len(pipeline.Spec.Steps)),
		},
	}

	defer func() {
		run.result.TotalDuration = time.Since(started)

		otelhelper.SetRunStatus(span, run.result.Status, deref(run.result.ErrorMessage))

		e.publish(ctx, execCtx, &events.RunFinished{
			BaseEvent:      events.NewBaseEvent(events.RunFinishedEvent, execCtx.PipelineID, execCtx.RunID),
			Status:         run.result.Status,
			StepsCompleted: run.result.StepsCompleted,
			StepsFailed:    run.result.StepsFailed,
			Duration:       run.result.TotalDuration,
			Error:          deref(run.result.ErrorMessage),
		})
	}()

	order, err := dag.ExecutionOrder(pipeline.Spec.Steps)
	if err != nil {
		run.finish(models.RunStatusFailed, err.Error())

		return run.result
	}

	maxParallel := pipeline.Spec.MaxParallelSteps()

	for _, batch := range dag.Batches(order, maxParallel) {
		if ctx.Err() != nil {
			run.finish(models.RunStatusCancelled, models.NewCancelledError().Error())

			return run.result
		}

		outcomes := e.runBatch(ctx, execCtx, batch, run.result.Outputs, maxParallel)

		if terminal := run.record(outcomes); terminal {
			return run.result
		}
	}

	run.finish(models.RunStatusCompleted, "")

	execCtx.Logger.InfoContext(ctx, "Pipeline run completed",
		"steps_completed", run.result.StepsCompleted,
		"duration", time.Since(started))

	return run.result
}

// runBatch gathers inputs for every step first, then dispatches the batch.
// Inputs are read before any goroutine starts so outputs is never shared.
func (e *Executor) runBatch(
	ctx context.Context,
	execCtx *protocol.ExecutionContext,
	batch []*models.PipelineStep,
	outputs map[string]any,
	maxParallel int,
) []*stepOutcome {
	outcomes := make([]*stepOutcome, len(batch))
	inputs := make([]models.StepInputs, len(batch))

	for i, step := range batch {
		in, err := GatherInputs(step, outputs, execCtx.Parameters)
		if err != nil {
			outcomes[i] = failedOutcome(step, time.Now(), err.Error())

			continue
		}

		inputs[i] = in
	}

	if len(batch) == 1 {
		if outcomes[0] == nil {
			outcomes[0] = e.runStep(ctx, execCtx, batch[0], inputs[0])
		}

		return outcomes
	}

	group := errgroup.Group{}
	group.SetLimit(maxParallel)

	for i, step := range batch {
		if outcomes[i] != nil {
			continue
		}

		group.Go(func() error {
			outcomes[i] = e.runStep(ctx, execCtx, step, inputs[i])

			return nil
		})
	}

	_ = group.Wait()

	return outcomes
}

func (e *Executor) publish(ctx context.Context, execCtx *protocol.ExecutionContext, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, execCtx.RunID, event); err != nil {
		execCtx.Logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// runState accumulates step outcomes into the result.
type runState struct {
	result *ExecutionResult
}

// record appends outcomes in batch order and reports whether the run ended.
// Completed siblings of a failed step keep their outputs.
func (r *runState) record(outcomes []*stepOutcome) bool {
	var terminal *stepOutcome

	for _, outcome := range outcomes {
		r.result.StepRuns = append(r.result.StepRuns, outcome.run)
		r.result.Warnings = append(r.result.Warnings, outcome.warnings...)

		if records := outcome.run.Metrics.RecordsProcessed; records != nil {
			r.result.RecordsProcessed += *records
		}

		if size := outcome.run.Metrics.OutputSize; size != nil {
			r.result.DataProcessed += *size
		}

		if outcome.run.Status == models.RunStatusCompleted {
			r.result.StepsCompleted++
			r.result.Outputs[outcome.run.StepID] = outcome.output

			continue
		}

		if outcome.run.Status != models.RunStatusCancelled {
			r.result.StepsFailed++
		}

		if terminal == nil || precedence(outcome.run.Status) > precedence(terminal.run.Status) {
			terminal = outcome
		}
	}

	if terminal == nil {
		return false
	}

	r.finish(terminal.run.Status, deref(terminal.run.ErrorMessage))

	return true
}

func (r *runState) finish(status models.RunStatus, message string) {
	r.result.Status = status

	if message != "" {
		r.result.ErrorMessage = &message
	}
}

// precedence orders terminal step states within one batch: a cancelled run
// stays cancelled, a timeout outranks a plain failure.
func precedence(status models.RunStatus) int {
	switch status {
	case models.RunStatusCancelled:
		return 3
	case models.RunStatusTimeout:
		return 2
	default:
		return 1
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func failedOutcome(step *models.PipelineStep, started time.Time, message string) *stepOutcome {
	now := time.Now().UTC()
	duration := uint64(now.Sub(started).Milliseconds())

	return &stepOutcome{
		run: &models.StepRun{
			ID:           newStepRunID(),
			StepID:       step.ID,
			StartedAt:    started.UTC(),
			EndedAt:      &now,
			Status:       models.RunStatusFailed,
			DurationMs:   &duration,
			ErrorMessage: &message,
		},
	}
}

// stepName is the name a step is reported under, its id when unnamed.
func stepName(step *models.PipelineStep) string {
	if step.Name != "" {
		return step.Name
	}

	return step.ID
}
