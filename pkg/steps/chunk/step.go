// Package chunk provides the step that splits documents into overlapping word windows.
package chunk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

const (
	DefaultMaxTokens = 512
	Strategy         = "word_window"
)

type Config struct {
	MaxTokens int `mapstructure:"maxTokens"`
	Overlap   int `mapstructure:"overlap"`
}

type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Type() models.StepType { return models.StepTypeChunk }

func (s *Step) Name() string { return "Chunk" }

func (s *Step) Description() string {
	return "Splits documents into chunks of at most maxTokens words with overlap"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"maxTokens": map[string]any{"type": "integer", "minimum": 1},
			"overlap":   map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxTokens {
		return nil, models.NewInvalidStepConfigError(step.Name,
			fmt.Sprintf("overlap must be between 0 and %d", cfg.MaxTokens-1))
	}

	docs, err := models.ExtractDocuments(inputs["documents"], "normalized_documents", "parsed_documents", "documents")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	chunks := make([]models.Chunk, 0, len(docs))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunks = append(chunks, Split(doc, cfg.MaxTokens, cfg.Overlap)...)
	}

	output := map[string]any{
		"chunks":            chunks,
		"total_chunks":      len(chunks),
		"chunking_strategy": Strategy,
		"max_tokens":        cfg.MaxTokens,
		"overlap":           cfg.Overlap,
	}

	return protocol.Completed(step, started, output, uint64(len(chunks))), nil
}

// Split cuts doc into windows of maxTokens words, each starting
// maxTokens-overlap words after the previous one.
func Split(doc models.Document, maxTokens, overlap int) []models.Chunk {
	words := strings.Fields(doc.Content)
	if len(words) == 0 {
		return nil
	}

	stride := maxTokens - overlap
	chunks := make([]models.Chunk, 0, len(words)/stride+1)

	for start := 0; ; start += stride {
		end := min(start+maxTokens, len(words))

		metadata := map[string]any{"start_word": start, "end_word": end}
		if doc.Title != "" {
			metadata["title"] = doc.Title
		}

		chunks = append(chunks, models.Chunk{
			ID:           fmt.Sprintf("%s#%d", doc.Path, len(chunks)),
			DocumentPath: doc.Path,
			Index:        len(chunks),
			Text:         strings.Join(words[start:end], " "),
			TokenCount:   end - start,
			Metadata:     metadata,
		})

		if end == len(words) {
			break
		}
	}

	return chunks
}
