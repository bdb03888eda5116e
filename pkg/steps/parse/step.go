// Package parse provides the step that turns fetched files into plain-text documents.
package parse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"golang.org/x/net/html"
)

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"footer":   true,
}

type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Type() models.StepType { return models.StepTypeParse }

func (s *Step) Name() string { return "Parse" }

func (s *Step) Description() string {
	return "Extracts text and titles from markdown, text and HTML documents"
}

func (s *Step) Schema() map[string]any { return nil }

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	if !inputs.Has("files") {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'files' input")
	}

	files, err := models.ExtractDocuments(inputs["files"], "files", "pages", "documents")
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	parsed := make([]models.Document, 0, len(files))
	warnings := make([]string, 0)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := parseDocument(file)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", file.Path, err))

			continue
		}

		parsed = append(parsed, doc)
	}

	output := map[string]any{
		"parsed_documents": parsed,
		"total_documents":  len(parsed),
		"warnings":         warnings,
	}

	result := protocol.Completed(step, started, output, uint64(len(parsed)))
	result.Warnings = warnings

	return result, nil
}

func parseDocument(file models.Document) (models.Document, error) {
	doc := file
	doc.Metadata = copyMetadata(file.Metadata)
	doc.Metadata["source_format"] = file.Format

	switch strings.ToLower(file.Format) {
	case "md", "markdown", "mdx":
		if heading := firstHeading(file.Content); heading != "" {
			doc.Title = heading
		}
	case "txt", "rst", "":
	case "html", "htm":
		title, text, err := htmlText(file.Content)
		if err != nil {
			return models.Document{}, err
		}

		if title != "" {
			doc.Title = title
		}

		doc.Content = text
	default:
		return models.Document{}, fmt.Errorf("unsupported format %q", file.Format)
	}

	doc.Format = "text"
	doc.Size = int64(len(doc.Content))

	return doc, nil
}

func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}

	return ""
}

// htmlText returns the document title and its visible text, one block per line.
func htmlText(content string) (string, string, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", "", err
	}

	var (
		title string
		text  strings.Builder
	)

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] {
				return
			}

			if n.Data == "title" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)

				return
			}
		}

		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				if text.Len() > 0 {
					text.WriteString("\n")
				}

				text.WriteString(trimmed)
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}

	visit(root)

	return title, text.String(), nil
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}

	return out
}
