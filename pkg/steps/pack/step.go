// Package pack provides the step that packages pipeline output as a knowledge base.
package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

const defaultVersion = "1.0.0"

type Config struct {
	CreateKB    bool   `mapstructure:"createKB"`
	Name        string `mapstructure:"name"`
	Product     string `mapstructure:"product"`
	Version     string `mapstructure:"version"`
	Description string `mapstructure:"description"`
}

// Manifest is written next to a packaged knowledge base.
type Manifest struct {
	KnowledgeBase *models.KnowledgeBase `json:"knowledge_base"`
	PipelineID    string                `json:"pipeline_id,omitempty"`
	RunID         string                `json:"run_id,omitempty"`
	Documents     []string              `json:"documents"`
}

type Step struct {
	blobs protocol.BlobStore
}

// New creates the pack step. Manifests are only written when blobs is not nil.
func New(blobs protocol.BlobStore) *Step {
	return &Step{blobs: blobs}
}

func (s *Step) Type() models.StepType { return models.StepTypePack }

func (s *Step) Name() string { return "Pack" }

func (s *Step) Description() string {
	return "Builds the knowledge base descriptor and manifest from indexed chunks"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"createKB": map[string]any{"type": "boolean"},
			"name":     map[string]any{"type": "string"},
			"product":  map[string]any{"type": "string"},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, execCtx *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	if !cfg.CreateKB {
		return protocol.Completed(step, started, map[string]any{"packed": false}, 0), nil
	}

	if cfg.Name == "" {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'name' parameter for KB creation")
	}

	if cfg.Product == "" {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'product' parameter for KB creation")
	}

	params := models.StepInputs{}
	if execCtx != nil {
		params = execCtx.Parameters
	}

	if cfg.Version == "" {
		cfg.Version = params.StringOr("version", defaultVersion)
	}

	if cfg.Description == "" {
		cfg.Description = params.StringOr("description", "")
	}

	chunks, err := models.ExtractChunks(inputs["chunks"], "embedded_chunks", "annotated_chunks", "chunks")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	documents := documentPaths(chunks)
	now := time.Now().UTC()

	kb := &models.KnowledgeBase{
		ID:            uuid.NewString(),
		Name:          cfg.Name,
		Product:       cfg.Product,
		Version:       cfg.Version,
		Description:   cfg.Description,
		Status:        models.KnowledgeBaseStatusIndexed,
		DocumentCount: len(documents),
		ChunkCount:    len(chunks),
		IndexSize:     upstreamInt(inputs, "index", "total_vectors"),
		HealthScore:   upstreamFloat(inputs, "evaluation", "quality_score"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.blobs != nil {
		manifest := Manifest{KnowledgeBase: kb, Documents: documents}
		if execCtx != nil {
			manifest.PipelineID = execCtx.PipelineID
			manifest.RunID = execCtx.RunID
		}

		if err := s.writeManifest(ctx, kb, manifest); err != nil {
			return nil, models.WrapError(models.ErrStorage, "failed to write manifest", err)
		}
	}

	output := map[string]any{
		"knowledge_base": kb,
		"pipeline_output": map[string]any{
			"total_processing_time": time.Since(started).Milliseconds(),
			"document_count":        kb.DocumentCount,
			"chunk_count":           kb.ChunkCount,
			"quality_score":         kb.HealthScore,
		},
	}

	return protocol.Completed(step, started, output, 1), nil
}

func (s *Step) writeManifest(ctx context.Context, kb *models.KnowledgeBase, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	meta, err := s.blobs.Store(ctx, path.Join("knowledge-bases", kb.ID, "manifest.json"), data)
	if err != nil {
		return err
	}

	kb.ManifestRef = meta.Path
	kb.Checksum = meta.Checksum

	return nil
}

func documentPaths(chunks []models.Chunk) []string {
	seen := make(map[string]bool)
	paths := make([]string, 0)

	for _, chunk := range chunks {
		if chunk.DocumentPath == "" || seen[chunk.DocumentPath] {
			continue
		}

		seen[chunk.DocumentPath] = true
		paths = append(paths, chunk.DocumentPath)
	}

	return paths
}

func upstreamInt(inputs models.StepInputs, input, key string) int {
	if upstream, ok := inputs[input].(map[string]any); ok {
		return models.StepInputs(upstream).IntOr(key, 0)
	}

	return 0
}

func upstreamFloat(inputs models.StepInputs, input, key string) float64 {
	if upstream, ok := inputs[input].(map[string]any); ok {
		return models.StepInputs(upstream).FloatOr(key, 0)
	}

	return 0
}
