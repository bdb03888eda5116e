package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbforge/kbforge/pkg/cache"
	"github.com/kbforge/kbforge/pkg/eventbus"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepFunc func(ctx context.Context, step *models.PipelineStep, inputs models.StepInputs) (*protocol.StepResult, error)

type funcStep struct {
	stepType models.StepType
	fn       stepFunc
	calls    atomic.Int32
}

func (s *funcStep) Type() models.StepType { return s.stepType }
func (s *funcStep) Name() string { return string(s.stepType) }
func (s *funcStep) Description() string { return "test step" }
func (s *funcStep) Schema() map[string]any { return nil }

func (s *funcStep) Execute(ctx context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	s.calls.Add(1)

	return s.fn(ctx, step, inputs)
}

func echo(value string) stepFunc {
	return func(_ context.Context, step *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		return protocol.Completed(step, time.Now(), map[string]any{"value": value}, 1), nil
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event.GetType())

	return nil
}

func newRegistry(steps ...*funcStep) *registry.Registry {
	reg := registry.NewRegistry(slog.Default())
	for _, step := range steps {
		reg.Register(step)
	}

	return reg
}

func newStep(id string, stepType models.StepType, deps ...string) *models.PipelineStep {
	return &models.PipelineStep{
		ID:           id,
		Name:         id,
		Type:         stepType,
		Config:       map[string]any{},
		Dependencies: deps,
	}
}

func newExecCtx(steps ...*models.PipelineStep) *protocol.ExecutionContext {
	pipeline := models.NewPipeline("test", "")
	pipeline.Spec.Steps = steps

	return &protocol.ExecutionContext{
		RunID:      "run-1",
		PipelineID: pipeline.ID,
		Pipeline:   pipeline,
		Parameters: map[string]any{"version": "2.0.0"},
		Logger:     slog.Default(),
	}
}

func source(id string) *string {
	return &id
}

func TestExecute_Chain(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: echo("raw")}
	parse := &funcStep{stepType: models.StepTypeParse, fn: func(_ context.Context, step *models.PipelineStep, inputs models.StepInputs) (*protocol.StepResult, error) {
		upstream, ok := inputs["files"].(map[string]any)
		if !ok {
			return nil, errors.New("missing files")
		}

		return protocol.Completed(step, time.Now(), map[string]any{"value": upstream["value"].(string) + "+parsed"}, 2), nil
	}}

	a := newStep("a", models.StepTypeFetch)
	b := newStep("b", models.StepTypeParse, "a")
	b.Inputs = []*models.StepInput{{Name: "files", Required: true, Source: source("a")}}

	exec := New(newRegistry(fetch, parse), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(b, a))

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, uint32(2), result.StepsCompleted)
	assert.Zero(t, result.StepsFailed)
	assert.Nil(t, result.ErrorMessage)
	assert.Equal(t, uint64(3), result.RecordsProcessed)
	require.Len(t, result.StepRuns, 2)
	assert.Equal(t, "a", result.StepRuns[0].StepID)
	assert.Equal(t, "b", result.StepRuns[1].StepID)
	assert.Equal(t, map[string]any{"value": "raw+parsed"}, result.Outputs["b"])
}

func TestExecute_CycleRunsNothing(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: echo("x")}

	exec := New(newRegistry(fetch), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(
		newStep("a", models.StepTypeFetch, "b"),
		newStep("b", models.StepTypeFetch, "a"),
	))

	assert.Equal(t, models.RunStatusFailed, result.Status)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "circular dependency")
	assert.Empty(t, result.StepRuns)
	assert.Zero(t, fetch.calls.Load())
}

func TestExecute_MissingRequiredInput(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: echo("x")}
	parse := &funcStep{stepType: models.StepTypeParse, fn: echo("y")}

	b := newStep("b", models.StepTypeParse, "a")
	b.Inputs = []*models.StepInput{{Name: "files", Required: true, Source: source("ghost")}}

	exec := New(newRegistry(fetch, parse), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(newStep("a", models.StepTypeFetch), b))

	assert.Equal(t, models.RunStatusFailed, result.Status)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "required input 'files' not available from step 'ghost'")
	assert.Zero(t, parse.calls.Load())
	assert.Equal(t, uint32(1), result.StepsCompleted)
	assert.Equal(t, uint32(1), result.StepsFailed)
}

func TestExecute_ParameterInputs(t *testing.T) {
	var seen models.StepInputs

	fetch := &funcStep{stepType: models.StepTypeFetch, fn: func(_ context.Context, step *models.PipelineStep, inputs models.StepInputs) (*protocol.StepResult, error) {
		seen = inputs

		return protocol.Completed(step, time.Now(), nil, 0), nil
	}}

	step := newStep("a", models.StepTypeFetch)
	step.Config = map[string]any{"path": "/docs"}
	step.Inputs = []*models.StepInput{
		{Name: "version", Required: true},
		{Name: "depth", Default: 2},
		{Name: "optional"},
	}

	exec := New(newRegistry(fetch), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(step))

	require.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, models.StepInputs{"version": "2.0.0", "depth": 2, "path": "/docs"}, seen)
}

func TestExecute_Timeout(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: echo("x")}
	parse := &funcStep{stepType: models.StepTypeParse, fn: func(ctx context.Context, _ *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}}

	timeout := uint64(1)
	slow := newStep("b", models.StepTypeParse, "a")
	slow.Name = "Slow"
	slow.TimeoutSeconds = &timeout
	slow.RetryPolicy = &models.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1}

	exec := New(newRegistry(fetch, parse), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(newStep("a", models.StepTypeFetch), slow))

	assert.Equal(t, models.RunStatusTimeout, result.Status)
	require.NotNil(t, result.ErrorMessage)
	assert.Equal(t, "step 'Slow' (b) timed out after 1 seconds", *result.ErrorMessage)
	assert.Contains(t, result.Outputs, "a")
	assert.NotContains(t, result.Outputs, "b")
	assert.Equal(t, int32(1), parse.calls.Load(), "timeouts are not retried")

	require.Len(t, result.StepRuns, 2)
	assert.Equal(t, models.RunStatusTimeout, result.StepRuns[1].Status)
}

func TestExecute_RetrySucceeds(t *testing.T) {
	var attempts atomic.Int32

	fetch := &funcStep{stepType: models.StepTypeFetch, fn: func(_ context.Context, step *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		if attempts.Add(1) < 3 {
			return nil, models.WrapError(models.ErrIO, "flaky source", nil)
		}

		return protocol.Completed(step, time.Now(), "ok", 0), nil
	}}

	step := newStep("a", models.StepTypeFetch)
	step.RetryPolicy = &models.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 5, BackoffMultiplier: 2}

	publisher := &recordingPublisher{}
	exec := New(newRegistry(fetch), slog.Default(), WithPublisher(publisher))
	result := exec.Execute(t.Context(), newExecCtx(step))

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	require.Len(t, result.StepRuns, 1)
	assert.Equal(t, uint32(2), result.StepRuns[0].RetryCount)
	assert.Equal(t, "ok", result.Outputs["a"])

	retried := 0

	for _, eventType := range publisher.events {
		if eventType == events.StepRetriedEvent {
			retried++
		}
	}

	assert.Equal(t, 2, retried)
}

func TestExecute_RetryExhausted(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: func(context.Context, *models.PipelineStep, models.StepInputs) (*protocol.StepResult, error) {
		return nil, models.WrapError(models.ErrIO, "source offline", nil)
	}}

	step := newStep("a", models.StepTypeFetch)
	step.RetryPolicy = &models.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 1}

	exec := New(newRegistry(fetch), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(step))

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, int32(2), fetch.calls.Load())
	assert.Equal(t, uint32(1), result.StepRuns[0].RetryCount)
	assert.Contains(t, *result.ErrorMessage, "source offline")
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: func(_ context.Context, step *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'path' parameter")
	}}

	step := newStep("a", models.StepTypeFetch)
	step.RetryPolicy = &models.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 1}

	exec := New(newRegistry(fetch), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(step))

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, int32(1), fetch.calls.Load())
	assert.Equal(t, "invalid step configuration for 'a': missing 'path' parameter", *result.ErrorMessage)
}

func TestExecute_FailedResultStopsRun(t *testing.T) {
	eval := &funcStep{stepType: models.StepTypeEval, fn: func(_ context.Context, step *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		return protocol.Failed(step, time.Now(), "quality score 0.50 below threshold 0.80"), nil
	}}
	pack := &funcStep{stepType: models.StepTypePack, fn: echo("kb")}

	exec := New(newRegistry(eval, pack), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(
		newStep("eval", models.StepTypeEval),
		newStep("pack", models.StepTypePack, "eval"),
	))

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, "quality score 0.50 below threshold 0.80", *result.ErrorMessage)
	assert.Zero(t, pack.calls.Load())
	assert.Len(t, result.StepRuns, 1)
}

func TestExecute_UnregisteredStep(t *testing.T) {
	exec := New(newRegistry(), slog.Default())
	result := exec.Execute(t.Context(), newExecCtx(newStep("a", models.StepTypeEmbed)))

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, "step type not implemented: embed", *result.ErrorMessage)
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	fetch := &funcStep{stepType: models.StepTypeFetch, fn: func(stepCtx context.Context, _ *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		cancel()
		<-stepCtx.Done()

		return nil, stepCtx.Err()
	}}
	parse := &funcStep{stepType: models.StepTypeParse, fn: echo("never")}

	exec := New(newRegistry(fetch, parse), slog.Default())
	result := exec.Execute(ctx, newExecCtx(
		newStep("a", models.StepTypeFetch),
		newStep("b", models.StepTypeParse, "a"),
	))

	assert.Equal(t, models.RunStatusCancelled, result.Status)
	assert.Zero(t, parse.calls.Load())
	assert.Zero(t, result.StepsFailed)
	require.Len(t, result.StepRuns, 1)
	assert.Equal(t, models.RunStatusCancelled, result.StepRuns[0].Status)
}

func TestExecute_ParallelBatch(t *testing.T) {
	var running, peak atomic.Int32

	work := func(_ context.Context, step *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		current := running.Add(1)
		defer running.Add(-1)

		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}

		time.Sleep(100 * time.Millisecond)

		return protocol.Completed(step, time.Now(), step.ID, 0), nil
	}

	normalize := &funcStep{stepType: models.StepTypeNormalize, fn: work}
	annotate := &funcStep{stepType: models.StepTypeAnnotate, fn: work}
	transform := &funcStep{stepType: models.StepTypeTransform, fn: work}

	steps := []*models.PipelineStep{
		newStep("n", models.StepTypeNormalize),
		newStep("a", models.StepTypeAnnotate),
		newStep("t", models.StepTypeTransform),
	}
	for _, step := range steps {
		step.Parallelizable = true
	}

	execCtx := newExecCtx(steps...)
	maxParallel := 2
	execCtx.Pipeline.Spec.Resources = &models.PipelineResources{MaxParallelSteps: &maxParallel}

	exec := New(newRegistry(normalize, annotate, transform), slog.Default())
	result := exec.Execute(t.Context(), execCtx)

	require.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, uint32(3), result.StepsCompleted)
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, []string{"n", "a", "t"}, []string{
		result.StepRuns[0].StepID, result.StepRuns[1].StepID, result.StepRuns[2].StepID,
	})
}

func TestExecute_SiblingOutputsKeptOnFailure(t *testing.T) {
	normalize := &funcStep{stepType: models.StepTypeNormalize, fn: echo("ok")}
	annotate := &funcStep{stepType: models.StepTypeAnnotate, fn: func(_ context.Context, step *models.PipelineStep, _ models.StepInputs) (*protocol.StepResult, error) {
		return protocol.Failed(step, time.Now(), "broken"), nil
	}}

	n := newStep("n", models.StepTypeNormalize)
	a := newStep("a", models.StepTypeAnnotate)
	n.Parallelizable = true
	a.Parallelizable = true

	execCtx := newExecCtx(n, a)
	maxParallel := 2
	execCtx.Pipeline.Spec.Resources = &models.PipelineResources{MaxParallelSteps: &maxParallel}

	result := New(newRegistry(normalize, annotate), slog.Default()).Execute(t.Context(), execCtx)

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, map[string]any{"value": "ok"}, result.Outputs["n"])
	assert.Equal(t, uint32(1), result.StepsCompleted)
	assert.Equal(t, uint32(1), result.StepsFailed)
}

func TestExecute_CacheHitSkipsExecution(t *testing.T) {
	chunk := &funcStep{stepType: models.StepTypeChunk, fn: echo("chunks")}
	step := newStep("c", models.StepTypeChunk)
	step.Config = map[string]any{"maxTokens": 64}

	exec := New(newRegistry(chunk), slog.Default(), WithCache(cache.NewMemory(), time.Minute))

	first := exec.Execute(t.Context(), newExecCtx(step))
	second := exec.Execute(t.Context(), newExecCtx(step))

	require.Equal(t, models.RunStatusCompleted, first.Status)
	require.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Equal(t, int32(1), chunk.calls.Load())
	assert.Equal(t, first.Outputs["c"], second.Outputs["c"])
}

func TestExecute_FetchIsNeverCached(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: echo("files")}
	exec := New(newRegistry(fetch), slog.Default(), WithCache(cache.NewMemory(), time.Minute))

	exec.Execute(t.Context(), newExecCtx(newStep("f", models.StepTypeFetch)))
	exec.Execute(t.Context(), newExecCtx(newStep("f", models.StepTypeFetch)))

	assert.Equal(t, int32(2), fetch.calls.Load())
}

func TestExecute_PublishesEvents(t *testing.T) {
	fetch := &funcStep{stepType: models.StepTypeFetch, fn: echo("x")}
	publisher := &recordingPublisher{}

	exec := New(newRegistry(fetch), slog.Default(), WithPublisher(publisher))
	exec.Execute(t.Context(), newExecCtx(newStep("a", models.StepTypeFetch)))

	assert.Equal(t, []events.EventType{
		events.StepStartedEvent,
		events.StepFinishedEvent,
		events.RunFinishedEvent,
	}, publisher.events)
}

func TestRetryPolicyDelays(t *testing.T) {
	step := newStep("a", models.StepTypeFetch)
	step.RetryPolicy = &models.RetryPolicy{MaxAttempts: 4, InitialDelayMs: 100, BackoffMultiplier: 2, MaxDelayMs: 300}

	policy := retryPolicy(t.Context(), step)

	assert.Equal(t, 100*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, 300*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, time.Duration(-1), policy.NextBackOff())
}
