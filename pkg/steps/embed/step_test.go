package embed

import (
	"errors"
	"testing"

	"github.com/kbforge/kbforge/pkg/mocks"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func embedStep() *models.PipelineStep {
	return &models.PipelineStep{ID: "embed", Name: "Embed", Type: models.StepTypeEmbed}
}

func TestExecute_Available(t *testing.T) {
	registry := &mocks.MockModelRegistry{}
	registry.On("GetModelStatus", mock.Anything, "mini").
		Return(protocol.ModelStatus{State: protocol.ModelStateAvailable}, nil)

	embedder := &mocks.MockEmbedder{}
	embedder.On("Embed", mock.Anything, "mini", []string{"a", "b"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil)
	embedder.On("Embed", mock.Anything, "mini", []string{"c"}).
		Return([][]float32{{1, 1}}, nil)
	embedder.On("Dimensions", "mini").Return(2)

	inputs := models.StepInputs{
		"model":     "mini",
		"batchSize": 2,
		"chunks": map[string]any{"chunks": []models.Chunk{
			{ID: "1", Text: "a"}, {ID: "2", Text: "b"}, {ID: "3", Text: "c"},
		}},
	}

	result, err := New(registry, embedder).Execute(t.Context(), embedStep(), nil, inputs)
	require.NoError(t, err)

	output := result.Output.(map[string]any)
	assert.Equal(t, "mini", output["model_used"])
	assert.Equal(t, 2, output["embedding_dimensions"])

	chunks := output["embedded_chunks"].([]models.Chunk)
	require.Len(t, chunks, 3)
	assert.Equal(t, []float32{1, 1}, chunks[2].Vector)

	embedder.AssertExpectations(t)
}

func TestExecute_ModelNotReady(t *testing.T) {
	tests := []struct {
		name     string
		status   protocol.ModelStatus
		kind     error
		contains string
	}{
		{
			name:     "not downloaded",
			status:   protocol.ModelStatus{State: protocol.ModelStateNotDownloaded},
			kind:     models.ErrModelNotAvailable,
			contains: "Download the model before running the pipeline (fallback: backup)",
		},
		{
			name:     "downloading",
			status:   protocol.ModelStatus{State: protocol.ModelStateDownloading, Progress: 0.5},
			kind:     models.ErrModelNotAvailable,
			contains: "Wait for model download to complete (50%)",
		},
		{
			name:     "error",
			status:   protocol.ModelStatus{State: protocol.ModelStateError, Message: "corrupt weights"},
			kind:     models.ErrModelError,
			contains: "model error for big: corrupt weights - fallback: backup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &mocks.MockModelRegistry{}
			registry.On("GetModelStatus", mock.Anything, "big").Return(tt.status, nil)
			registry.On("GetFallbackModel", mock.Anything, protocol.ModelTypeEmbedding).Return("backup", nil)

			embedder := &mocks.MockEmbedder{}

			_, err := New(registry, embedder).Execute(t.Context(), embedStep(), nil, models.StepInputs{"model": "big"})
			require.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), tt.contains)
			assert.True(t, models.IsPermanent(err))

			embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCheckModel_FallbackDefault(t *testing.T) {
	registry := &mocks.MockModelRegistry{}
	registry.On("GetModelStatus", mock.Anything, "big").
		Return(protocol.ModelStatus{State: protocol.ModelStateNotDownloaded}, nil)
	registry.On("GetFallbackModel", mock.Anything, protocol.ModelTypeEmbedding).Return("", errors.New("none"))

	err := CheckModel(t.Context(), registry, "big")
	assert.Contains(t, err.Error(), "fallback: "+DefaultFallbackModel)
}

func TestExecute_MissingModel(t *testing.T) {
	_, err := New(nil, nil).Execute(t.Context(), embedStep(), nil, models.StepInputs{})
	require.ErrorIs(t, err, models.ErrInvalidStepConfig)
	assert.Contains(t, err.Error(), "missing 'model' parameter")
}

func TestCheckStatus_LookupError(t *testing.T) {
	registry := &mocks.MockModelRegistry{}
	registry.On("GetFallbackModel", mock.Anything, protocol.ModelTypeEmbedding).Return("backup", nil)

	err := CheckStatus(t.Context(), registry, "big", protocol.ModelStatus{}, errors.New("registry offline"))
	require.ErrorIs(t, err, models.ErrModelError)
	assert.Contains(t, err.Error(), "registry offline - fallback: backup")

	require.NoError(t, CheckStatus(t.Context(), registry, "big", protocol.ModelStatus{State: protocol.ModelStateAvailable}, nil))
	registry.AssertNotCalled(t, "GetModelStatus", mock.Anything, mock.Anything)
}
