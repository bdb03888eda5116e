// Package eval provides the step that scores index coverage against a quality threshold.
package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

const DefaultQualityThreshold = 0.8

type Config struct {
	QualityThreshold *float64 `mapstructure:"qualityThreshold"`
	Collection       string   `mapstructure:"collection"`
}

type Step struct {
	index protocol.SearchIndex
}

// New creates the eval step. index is consulted only when the upstream
// output does not carry coverage counts.
func New(index protocol.SearchIndex) *Step {
	return &Step{index: index}
}

func (s *Step) Type() models.StepType { return models.StepTypeEval }

func (s *Step) Name() string { return "Evaluate" }

func (s *Step) Description() string {
	return "Computes the share of chunks that made it into the index and fails below the threshold"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"qualityThreshold": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"collection":       map[string]any{"type": "string"},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, execCtx *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	threshold := DefaultQualityThreshold
	if cfg.QualityThreshold != nil {
		threshold = *cfg.QualityThreshold
	}

	indexed, total, err := s.coverage(ctx, execCtx, cfg, inputs)
	if err != nil {
		return nil, err
	}

	score := 0.0
	if total > 0 {
		score = float64(indexed) / float64(total)
	}

	if score < threshold {
		return protocol.Failed(step, started, fmt.Sprintf("quality score %.2f below threshold %.2f", score, threshold)), nil
	}

	output := map[string]any{
		"quality_score": score,
		"threshold":     threshold,
		"passed":        true,
		"metrics": map[string]any{
			"indexed_chunks": indexed,
			"total_chunks":   total,
			"coverage":       score,
		},
	}

	return protocol.Completed(step, started, output, uint64(total)), nil
}

func (s *Step) coverage(ctx context.Context, execCtx *protocol.ExecutionContext, cfg Config, inputs models.StepInputs) (int, int, error) {
	if upstream, ok := inputs["index"].(map[string]any); ok {
		counts := models.StepInputs(upstream)
		if counts.Has("indexed_chunks") && counts.Has("total_chunks") {
			return counts.IntOr("indexed_chunks", 0), counts.IntOr("total_chunks", 0), nil
		}

		if collection, ok := counts.String("collection"); ok && cfg.Collection == "" {
			cfg.Collection = collection
		}
	}

	if s.index == nil {
		return 0, 0, nil
	}

	if cfg.Collection == "" && execCtx != nil {
		cfg.Collection = execCtx.PipelineID
	}

	stats, err := s.index.Stats(ctx, cfg.Collection)
	if err != nil {
		return 0, 0, models.WrapError(models.ErrStorage, "failed to read index stats", err)
	}

	return stats.IndexedCount, stats.IndexedCount + stats.RejectedCount, nil
}
