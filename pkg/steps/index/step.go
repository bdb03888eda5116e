// Package index provides the step that writes chunks to the search index.
package index

import (
	"context"
	"maps"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

type Config struct {
	Collection string `mapstructure:"collection"`
}

type Step struct {
	index protocol.SearchIndex
}

func New(index protocol.SearchIndex) *Step {
	return &Step{index: index}
}

func (s *Step) Type() models.StepType { return models.StepTypeIndex }

func (s *Step) Name() string { return "Index" }

func (s *Step) Description() string {
	return "Stores chunks and their vectors in a search index collection"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"collection": map[string]any{"type": "string"},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, execCtx *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	if s.index == nil {
		return nil, models.WrapError(models.ErrStorage, "no search index configured", nil)
	}

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	if cfg.Collection == "" && execCtx != nil {
		cfg.Collection = execCtx.PipelineID
	}

	if cfg.Collection == "" {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'collection' parameter")
	}

	chunks, err := models.ExtractChunks(inputs["chunks"], "embedded_chunks", "annotated_chunks", "chunks")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	docs := make([]protocol.IndexDocument, 0, len(chunks))
	for _, chunk := range chunks {
		metadata := make(map[string]any, len(chunk.Metadata)+1)
		maps.Copy(metadata, chunk.Metadata)
		metadata["document_path"] = chunk.DocumentPath

		docs = append(docs, protocol.IndexDocument{
			ID:       chunk.ID,
			Text:     chunk.Text,
			Vector:   chunk.Vector,
			Metadata: metadata,
		})
	}

	stats, err := s.index.Index(ctx, cfg.Collection, docs)
	if err != nil {
		return nil, models.WrapError(models.ErrStorage, "failed to index chunks", err)
	}

	output := map[string]any{
		"collection":        stats.Collection,
		"total_chunks":      len(chunks),
		"indexed_chunks":    stats.IndexedCount,
		"rejected_chunks":   stats.RejectedCount,
		"document_count":    stats.DocumentCount,
		"vector_index_size": stats.VectorCount,
		"bm25_index_size":   stats.TermCount,
		"total_vectors":     stats.VectorCount,
		"index_health":      stats.HealthScore,
		"vector_dimension":  stats.VectorDimension,
	}

	return protocol.Completed(step, started, output, uint64(stats.IndexedCount)), nil
}
