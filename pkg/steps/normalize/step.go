// Package normalize provides the step that cleans and deduplicates document text.
package normalize

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"golang.org/x/text/unicode/norm"
)

type Config struct {
	Lowercase   bool  `mapstructure:"lowercase"`
	Deduplicate *bool `mapstructure:"deduplicate"`
	MinLength   int   `mapstructure:"minLength"`
}

type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Type() models.StepType { return models.StepTypeNormalize }

func (s *Step) Name() string { return "Normalize" }

func (s *Step) Description() string {
	return "Applies Unicode NFC, collapses whitespace and drops duplicate documents"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lowercase":   map[string]any{"type": "boolean"},
			"deduplicate": map[string]any{"type": "boolean"},
		},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	dedupe := cfg.Deduplicate == nil || *cfg.Deduplicate

	docs, err := models.ExtractDocuments(inputs["documents"], "parsed_documents", "documents", "files", "pages")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	seen := make(map[uint64]bool, len(docs))
	normalized := make([]models.Document, 0, len(docs))
	duplicates, empty := 0, 0

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content := Text(doc.Content)
		if cfg.Lowercase {
			content = strings.ToLower(content)
		}

		if len(content) == 0 || len(content) < cfg.MinLength {
			empty++

			continue
		}

		hash := xxhash.Sum64String(content)
		if dedupe && seen[hash] {
			duplicates++

			continue
		}

		seen[hash] = true

		doc.Content = content
		doc.Size = int64(len(content))
		doc.Checksum = strconv.FormatUint(hash, 16)
		normalized = append(normalized, doc)
	}

	output := map[string]any{
		"normalized_documents": normalized,
		"deduplication_stats": map[string]any{
			"input_documents":    len(docs),
			"output_documents":   len(normalized),
			"duplicates_removed": duplicates,
			"empty_removed":      empty,
		},
	}

	return protocol.Completed(step, started, output, uint64(len(normalized))), nil
}

// Text returns s in NFC with runs of horizontal whitespace collapsed to one
// space, trailing spaces removed and at most one blank line between paragraphs.
func Text(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false

	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}

			blank = true

			continue
		}

		blank = false

		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

func collapseSpaces(line string) string {
	var b strings.Builder

	space := false

	for _, r := range line {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			space = true

			continue
		}

		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}

		space = false

		b.WriteRune(r)
	}

	return b.String()
}
