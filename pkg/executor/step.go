package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kbforge/kbforge/pkg/cache"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/otelhelper"
	"github.com/kbforge/kbforge/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// errStepTimeout marks an attempt that outlived the step timeout.
var errStepTimeout = errors.New("step timeout")

// Steps whose result depends on state outside their inputs.
var uncachedSteps = map[models.StepType]bool{
	models.StepTypeFetch: true,
	models.StepTypePack:  true,
}

type stepOutcome struct {
	run      *models.StepRun
	output   any
	warnings []string
}

// runStep executes one step with its timeout and retry policy and always
// returns a StepRun describing what happened.
func (e *Executor) runStep(ctx context.Context, execCtx *protocol.ExecutionContext, step *models.PipelineStep, inputs models.StepInputs) *stepOutcome {
	started := time.Now()
	logger := execCtx.Logger.With("step_id", step.ID, "step_type", step.Type)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.step",
		attribute.String(otelhelper.RunIDKey, execCtx.RunID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	if ctx.Err() != nil {
		return cancelledOutcome(step, started)
	}

	executor, err := e.steps.Get(step.Type)
	if err != nil {
		otelhelper.SetError(span, err)

		return failedOutcome(step, started, err.Error())
	}

	e.publish(ctx, execCtx, &events.StepStarted{
		BaseEvent: events.NewBaseEvent(events.StepStartedEvent, execCtx.PipelineID, execCtx.RunID),
		StepID:    step.ID,
		StepType:  step.Type,
	})

	cacheKey, cached := e.lookupCache(ctx, logger, step, inputs)
	if cached != nil {
		outcome := completedOutcome(step, started, cached, 0)
		e.publishFinished(ctx, execCtx, step, outcome, true)

		return outcome
	}

	var (
		result  *protocol.StepResult
		retries uint32
	)

	operation := func() error {
		res, err := e.attempt(ctx, executor, step, execCtx, inputs)
		if err != nil {
			switch {
			case errors.Is(err, errStepTimeout), ctx.Err() != nil, models.IsPermanent(err):
				return backoff.Permanent(err)
			}

			return err
		}

		result = res

		return nil
	}

	notify := func(err error, delay time.Duration) {
		retries++

		logger.WarnContext(ctx, "Retrying step", "attempt", retries+1, "delay", delay, "error", err)

		e.publish(ctx, execCtx, &events.StepRetried{
			BaseEvent: events.NewBaseEvent(events.StepRetriedEvent, execCtx.PipelineID, execCtx.RunID),
			StepID:    step.ID,
			Attempt:   retries + 1,
			Delay:     delay,
			Error:     err.Error(),
		})
	}

	err = backoff.RetryNotify(operation, retryPolicy(ctx, step), notify)

	var outcome *stepOutcome

	switch {
	case err == nil && result.Status == models.RunStatusCompleted:
		outcome = completedOutcome(step, started, result.Output, retries)
		outcome.run.Metrics = result.Metrics
		outcome.warnings = result.Warnings

		e.storeCache(ctx, logger, cacheKey, result.Output)
	case err == nil:
		outcome = failedOutcome(step, started, deref(result.ErrorMessage))
		outcome.warnings = result.Warnings
	case errors.Is(err, errStepTimeout):
		outcome = failedOutcome(step, started, models.NewTimeoutError(stepName(step), step.ID, uint64(step.Timeout().Seconds())).Error())
		outcome.run.Status = models.RunStatusTimeout
	case ctx.Err() != nil:
		outcome = cancelledOutcome(step, started)
	default:
		outcome = failedOutcome(step, started, err.Error())
	}

	outcome.run.RetryCount = retries

	otelhelper.SetRunStatus(span, outcome.run.Status, deref(outcome.run.ErrorMessage),
		attribute.Int(otelhelper.StepAttemptKey, int(retries)+1))

	if outcome.run.Status != models.RunStatusCompleted {
		logger.ErrorContext(ctx, "Step did not complete", "status", outcome.run.Status, "error", deref(outcome.run.ErrorMessage))
	} else {
		logger.InfoContext(ctx, "Step completed", "duration_ms", deref64(outcome.run.DurationMs), "retries", retries)
	}

	e.publishFinished(ctx, execCtx, step, outcome, false)

	return outcome
}

// attempt runs the executor once under the step timeout. An executor that
// ignores its context is abandoned when the timeout fires.
func (e *Executor) attempt(
	ctx context.Context,
	executor protocol.StepExecutor,
	step *models.PipelineStep,
	execCtx *protocol.ExecutionContext,
	inputs models.StepInputs,
) (*protocol.StepResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	type response struct {
		result *protocol.StepResult
		err    error
	}

	done := make(chan response, 1)

	go func() {
		result, err := executor.Execute(attemptCtx, step, execCtx, inputs)
		done <- response{result: result, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.result == nil {
			return nil, models.WrapError(models.ErrInternal, "step returned no result", nil)
		}

		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, errStepTimeout
		}

		return res.result, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, errStepTimeout
	}
}

// retryPolicy allows MaxAttempts-1 retries spaced by RetryPolicy.Delay.
func retryPolicy(ctx context.Context, step *models.PipelineStep) backoff.BackOffContext {
	policy := step.RetryPolicy
	if policy == nil || policy.MaxAttempts < 1 {
		policy = &models.RetryPolicy{MaxAttempts: 1}
	}

	return backoff.WithContext(
		backoff.WithMaxRetries(&policyBackOff{policy: policy}, uint64(policy.MaxAttempts-1)),
		ctx,
	)
}

// policyBackOff yields initial × multiplier^(n-1) capped at the max delay,
// with no jitter.
type policyBackOff struct {
	policy  *models.RetryPolicy
	attempt uint32
}

func (p *policyBackOff) NextBackOff() time.Duration {
	p.attempt++

	return p.policy.Delay(p.attempt)
}

func (p *policyBackOff) Reset() {
	p.attempt = 0
}

func (e *Executor) lookupCache(ctx context.Context, logger *slog.Logger, step *models.PipelineStep, inputs models.StepInputs) (string, any) {
	if e.cache == nil || uncachedSteps[step.Type] {
		return "", nil
	}

	key, err := cache.Key(step.Type, inputs)
	if err != nil {
		logger.WarnContext(ctx, "Step inputs are not cacheable", "error", err)

		return "", nil
	}

	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "Step cache lookup failed", "error", err)

		return key, nil
	}

	if !ok {
		return key, nil
	}

	var output any
	if err := json.Unmarshal(data, &output); err != nil {
		return key, nil
	}

	return key, output
}

func (e *Executor) storeCache(ctx context.Context, logger *slog.Logger, key string, output any) {
	if e.cache == nil || key == "" {
		return
	}

	data, err := json.Marshal(output)
	if err != nil {
		logger.WarnContext(ctx, "Step output is not cacheable", "error", err)

		return
	}

	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		logger.WarnContext(ctx, "Step cache write failed", "error", err)
	}
}

func (e *Executor) publishFinished(ctx context.Context, execCtx *protocol.ExecutionContext, step *models.PipelineStep, outcome *stepOutcome, cached bool) {
	e.publish(ctx, execCtx, &events.StepFinished{
		BaseEvent:  events.NewBaseEvent(events.StepFinishedEvent, execCtx.PipelineID, execCtx.RunID),
		StepID:     step.ID,
		StepType:   step.Type,
		Status:     outcome.run.Status,
		RetryCount: outcome.run.RetryCount,
		DurationMs: deref64(outcome.run.DurationMs),
		Cached:     cached,
		Error:      deref(outcome.run.ErrorMessage),
	})
}

func completedOutcome(step *models.PipelineStep, started time.Time, output any, retries uint32) *stepOutcome {
	now := time.Now().UTC()
	duration := uint64(now.Sub(started).Milliseconds())

	return &stepOutcome{
		output: output,
		run: &models.StepRun{
			ID:         newStepRunID(),
			StepID:     step.ID,
			StartedAt:  started.UTC(),
			EndedAt:    &now,
			Status:     models.RunStatusCompleted,
			DurationMs: &duration,
			Output:     output,
			RetryCount: retries,
		},
	}
}

func cancelledOutcome(step *models.PipelineStep, started time.Time) *stepOutcome {
	outcome := failedOutcome(step, started, models.NewCancelledError().Error())
	outcome.run.Status = models.RunStatusCancelled

	return outcome
}

func newStepRunID() string {
	return uuid.New().String()
}

func deref64(v *uint64) uint64 {
	if v == nil {
		return 0
	}

	return *v
}
