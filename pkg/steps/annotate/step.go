// Package annotate provides the step that attaches text statistics and keywords to chunks.
package annotate

import (
	"context"
	"maps"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

const defaultTopKeywords = 5

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true,
	"from": true, "have": true, "into": true, "more": true, "only": true,
	"other": true, "over": true, "same": true, "some": true, "such": true,
	"than": true, "that": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "through": true,
	"very": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "with": true, "would": true,
	"your": true,
}

type Config struct {
	TopKeywords int `mapstructure:"topKeywords"`
	MinWordLen  int `mapstructure:"minWordLength"`
}

type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Type() models.StepType { return models.StepTypeAnnotate }

func (s *Step) Name() string { return "Annotate" }

func (s *Step) Description() string {
	return "Adds word and character counts, section titles and top keywords to chunk metadata"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topKeywords":   map[string]any{"type": "integer", "minimum": 0},
			"minWordLength": map[string]any{"type": "integer", "minimum": 1},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	if cfg.TopKeywords == 0 {
		cfg.TopKeywords = defaultTopKeywords
	}

	if cfg.MinWordLen == 0 {
		cfg.MinWordLen = 4
	}

	chunks, err := models.ExtractChunks(inputs["chunks"], "chunks", "annotated_chunks")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	annotated := make([]models.Chunk, 0, len(chunks))

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		metadata := make(map[string]any, len(chunk.Metadata)+3)
		maps.Copy(metadata, chunk.Metadata)

		metadata["word_count"] = len(strings.Fields(chunk.Text))
		metadata["char_count"] = utf8.RuneCountInString(chunk.Text)
		metadata["keywords"] = Keywords(chunk.Text, cfg.TopKeywords, cfg.MinWordLen)

		chunk.Metadata = metadata
		annotated = append(annotated, chunk)
	}

	output := map[string]any{
		"annotated_chunks": annotated,
		"chunks":           annotated,
		"total_chunks":     len(annotated),
	}

	return protocol.Completed(step, started, output, uint64(len(annotated))), nil
}

// Keywords returns the n most frequent words of at least minLen letters,
// ties broken alphabetically.
func Keywords(text string, n, minLen int) []string {
	counts := make(map[string]int)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, word := range words {
		if utf8.RuneCountInString(word) < minLen || stopWords[word] {
			continue
		}

		counts[word]++
	}

	keywords := make([]string, 0, len(counts))
	for word := range counts {
		keywords = append(keywords, word)
	}

	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}

		return keywords[i] < keywords[j]
	})

	if len(keywords) > n {
		keywords = keywords[:n]
	}

	return keywords
}
