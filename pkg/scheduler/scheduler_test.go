package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/mocks"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	pipelines []*models.Pipeline
	triggers  []models.RunTrigger
	started   []string
}

func (f *fakeRunner) ListPipelines(_ context.Context) ([]*models.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pipelines, nil
}

func (f *fakeRunner) ExecutePipeline(_ context.Context, id string, _ map[string]any, trigger models.RunTrigger) (*models.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = append(f.started, id)
	f.triggers = append(f.triggers, trigger)

	return models.NewPipelineRun(id, trigger, nil), nil
}

func scheduled(expr string, enabled bool) *models.PipelineTrigger {
	return &models.PipelineTrigger{
		Type:    models.TriggerTypeScheduled,
		Config:  map[string]any{"cron": expr},
		Enabled: enabled,
	}
}

func scheduledPipeline(triggers ...*models.PipelineTrigger) *models.Pipeline {
	pipeline := testutil.CreateTestPipeline()
	pipeline.Spec.Triggers = triggers

	return pipeline
}

func TestCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		trigger *models.PipelineTrigger
		wantErr error
	}{
		{name: "every five minutes", trigger: scheduled("*/5 * * * *", true)},
		{name: "daily descriptor", trigger: scheduled("@daily", true)},
		{name: "missing", trigger: &models.PipelineTrigger{Type: models.TriggerTypeScheduled}, wantErr: ErrMissingCronExpression},
		{name: "invalid", trigger: scheduled("invalid cron", true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := CronExpression(tt.trigger)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.name == "invalid":
				require.ErrorContains(t, err, "invalid cron expression")
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.trigger.Config["cron"], expr)
			}
		})
	}
}

func TestSync(t *testing.T) {
	active := scheduledPipeline(scheduled("*/5 * * * *", true), scheduled("0 0 * * *", true), scheduled("0 1 * * *", false))
	broken := scheduledPipeline(scheduled("not a cron", true))
	paused := scheduledPipeline(scheduled("*/5 * * * *", true))
	paused.Status = models.PipelineStatusPaused
	manual := scheduledPipeline(&models.PipelineTrigger{Type: models.TriggerTypeManual, Enabled: true})

	runner := &fakeRunner{pipelines: []*models.Pipeline{active, broken, paused, manual}}
	s := New(runner, slog.Default())

	require.NoError(t, s.Sync(t.Context()))
	assert.Equal(t, 2, s.Entries())

	require.NoError(t, s.Sync(t.Context()))
	assert.Equal(t, 2, s.Entries(), "sync is idempotent")

	active.Spec.Triggers = active.Spec.Triggers[:1]
	require.NoError(t, s.Sync(t.Context()))
	assert.Equal(t, 1, s.Entries())

	runner.pipelines = nil
	require.NoError(t, s.Sync(t.Context()))
	assert.Equal(t, 0, s.Entries())
	assert.Empty(t, s.cron.Entries())
}

func TestFire(t *testing.T) {
	pipeline := scheduledPipeline(scheduled("*/5 * * * *", true))
	runner := &fakeRunner{pipelines: []*models.Pipeline{pipeline}}
	s := New(runner, slog.Default())

	s.fire(pipeline.ID, "*/5 * * * *")()

	require.Equal(t, []string{pipeline.ID}, runner.started)
	assert.Equal(t, models.TriggerTypeScheduled, runner.triggers[0].Type)
	require.NotNil(t, runner.triggers[0].Source)
	assert.Equal(t, "cron:*/5 * * * *", *runner.triggers[0].Source)
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{pipelines: []*models.Pipeline{scheduledPipeline(scheduled("@hourly", true))}}
	s := New(runner, slog.Default())

	require.NoError(t, s.Start(t.Context()))
	assert.Equal(t, 1, s.Entries())
	require.NoError(t, s.Stop(t.Context()))
}

func TestSubscribe(t *testing.T) {
	bus := &mocks.MockEventBus{}
	for _, eventType := range []events.EventType{
		events.PipelineCreatedEvent,
		events.PipelineUpdatedEvent,
		events.PipelineDeletedEvent,
	} {
		bus.On("Handle", eventType, mock.Anything).Return(nil)
	}

	s := New(&fakeRunner{}, slog.Default())

	require.NoError(t, s.Subscribe(bus))
	bus.AssertExpectations(t)
}
