package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(RunStartedEvent, "pipe-1", "run-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, RunStartedEvent, event.Type)
	assert.Equal(t, "pipe-1", event.PipelineID)
	assert.Equal(t, "run-1", event.RunID)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)
	assert.NotNil(t, event.Metadata)
}

func TestGetType(t *testing.T) {
	assert.Equal(t, RunStartedEvent, RunStarted{}.GetType())
	assert.Equal(t, RunFinishedEvent, RunFinished{}.GetType())
	assert.Equal(t, RunCancelledEvent, RunCancelled{}.GetType())
	assert.Equal(t, StepStartedEvent, StepStarted{}.GetType())
	assert.Equal(t, StepFinishedEvent, StepFinished{}.GetType())
	assert.Equal(t, StepRetriedEvent, StepRetried{}.GetType())

	changed := PipelineChanged{BaseEvent: NewBaseEvent(PipelineDeletedEvent, "pipe-1", "")}
	assert.Equal(t, PipelineDeletedEvent, changed.GetType())
}

func TestStepFinished_JSON(t *testing.T) {
	original := &StepFinished{
		BaseEvent:  NewBaseEvent(StepFinishedEvent, "pipe-1", "run-1"),
		StepID:     "embed",
		StepType:   models.StepTypeEmbed,
		Status:     models.RunStatusFailed,
		RetryCount: 2,
		Error:      "model not available",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step_type":"embed"`)
	assert.NotContains(t, string(data), `"cached"`)

	var decoded StepFinished
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.StepID, decoded.StepID)
	assert.Equal(t, original.RetryCount, decoded.RetryCount)
	assert.Equal(t, original.Status, decoded.Status)
	assert.Equal(t, original.RunID, decoded.RunID)
}
