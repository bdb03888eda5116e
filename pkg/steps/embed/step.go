// Package embed provides the step that turns chunks into vectors.
package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

// DefaultFallbackModel is suggested when the model registry cannot name one.
const DefaultFallbackModel = "all-MiniLM-L6-v2"

const defaultBatchSize = 32

type Config struct {
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batchSize"`
}

type Step struct {
	models   protocol.ModelRegistry
	embedder protocol.Embedder
}

func New(registry protocol.ModelRegistry, embedder protocol.Embedder) *Step {
	return &Step{models: registry, embedder: embedder}
}

func (s *Step) Type() models.StepType { return models.StepTypeEmbed }

func (s *Step) Name() string { return "Embed" }

func (s *Step) Description() string {
	return "Computes an embedding vector for every chunk with the configured model"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"model"},
		"properties": map[string]any{
			"model":     map[string]any{"type": "string", "minLength": 1},
			"batchSize": map[string]any{"type": "integer", "minimum": 1},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	if cfg.Model == "" {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'model' parameter")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if err := CheckModel(ctx, s.models, cfg.Model); err != nil {
		return nil, err
	}

	if s.embedder == nil {
		return nil, models.WrapError(models.ErrEmbedding, "no embedder configured", nil)
	}

	chunks, err := models.ExtractChunks(inputs["chunks"], "annotated_chunks", "chunks")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	embedded := make([]models.Chunk, len(chunks))
	copy(embedded, chunks)

	for start := 0; start < len(embedded); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(embedded))

		texts := make([]string, 0, end-start)
		for _, chunk := range embedded[start:end] {
			texts = append(texts, chunk.Text)
		}

		vectors, err := s.embedder.Embed(ctx, cfg.Model, texts)
		if err != nil {
			return nil, models.WrapError(models.ErrEmbedding, fmt.Sprintf("failed to embed chunks %d-%d", start, end), err)
		}

		if len(vectors) != len(texts) {
			return nil, models.WrapError(models.ErrEmbedding,
				fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(texts)), nil)
		}

		for i, vector := range vectors {
			embedded[start+i].Vector = vector
		}
	}

	output := map[string]any{
		"embedded_chunks":      embedded,
		"chunks":               embedded,
		"model_used":           cfg.Model,
		"embedding_dimensions": s.embedder.Dimensions(cfg.Model),
		"total_chunks":         len(embedded),
	}

	return protocol.Completed(step, started, output, uint64(len(embedded))), nil
}

// CheckModel returns nil when modelID is available. Otherwise it returns a
// ModelNotAvailable or ModelError carrying the registry's fallback model.
func CheckModel(ctx context.Context, registry protocol.ModelRegistry, modelID string) error {
	if registry == nil {
		return nil
	}

	status, err := registry.GetModelStatus(ctx, modelID)

	return CheckStatus(ctx, registry, modelID, status, err)
}

// CheckStatus turns a status already read from registry into the CheckModel
// error. lookupErr is the error GetModelStatus returned, if any.
func CheckStatus(ctx context.Context, registry protocol.ModelRegistry, modelID string, status protocol.ModelStatus, lookupErr error) error {
	if lookupErr != nil {
		return models.NewModelError(modelID, lookupErr.Error(), fallbackModel(ctx, registry))
	}

	switch status.State {
	case protocol.ModelStateAvailable:
		return nil
	case protocol.ModelStateNotDownloaded:
		return models.NewModelNotAvailableError(modelID,
			"Download the model before running the pipeline", fallbackModel(ctx, registry))
	case protocol.ModelStateDownloading:
		return models.NewModelNotAvailableError(modelID,
			fmt.Sprintf("Wait for model download to complete (%.0f%%)", status.Progress*100), fallbackModel(ctx, registry))
	case protocol.ModelStateError:
		return models.NewModelError(modelID, status.Message, fallbackModel(ctx, registry))
	}

	return models.NewModelError(modelID, fmt.Sprintf("unknown model state %q", status.State), fallbackModel(ctx, registry))
}

func fallbackModel(ctx context.Context, registry protocol.ModelRegistry) string {
	fallback, err := registry.GetFallbackModel(ctx, protocol.ModelTypeEmbedding)
	if err != nil || fallback == "" {
		return DefaultFallbackModel
	}

	return fallback
}
