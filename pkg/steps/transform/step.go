// Package transform provides the step that reshapes upstream outputs with a template expression.
package transform

import (
	"context"
	"time"

	"github.com/kbforge/kbforge/pkg/log"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/template"
)

type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Type() models.StepType { return models.StepTypeTransform }

func (s *Step) Name() string { return "Transform" }

func (s *Step) Description() string {
	return "Renders a Go template expression over the step inputs. Output that parses as JSON, a number or a boolean is returned typed."
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Template rendered with .inputs, .params, .run and .env",
				"examples": []string{
					"{{ .inputs.chunk.total_chunks }}",
					`{"kb": "{{ .params.name }}", "run": "{{ .run.id }}"}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

func (s *Step) Execute(ctx context.Context, step *models.PipelineStep, execCtx *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	expression, ok := inputs.String("expression")
	if !ok {
		return nil, models.NewInvalidStepConfigError(step.Name, "missing 'expression' parameter")
	}

	renderCtx := template.RenderContext{Inputs: inputs}

	if execCtx != nil {
		renderCtx.RunID = execCtx.RunID
		renderCtx.PipelineID = execCtx.PipelineID
		renderCtx.Parameters = execCtx.Parameters
	}

	result, err := template.RenderWithContext(expression, renderCtx)
	if err != nil {
		return nil, models.NewInvalidStepConfigError(step.Name, "transformation failed: "+err.Error())
	}

	log.FromContext(ctx).DebugContext(ctx, "Transform rendered", "step_id", step.ID)

	return protocol.Completed(step, started, map[string]any{"result": result}, 1), nil
}
