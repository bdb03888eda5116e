// Package validate provides the step that checks upstream data against a JSON schema.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var configKeys = map[string]bool{"schema": true, "requiredKeys": true}

type Config struct {
	Schema       map[string]any `mapstructure:"schema"`
	RequiredKeys []string       `mapstructure:"requiredKeys"`
}

type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Type() models.StepType { return models.StepTypeValidate }

func (s *Step) Name() string { return "Validate" }

func (s *Step) Description() string {
	return "Checks the data input, or every input, against a JSON schema and a list of required keys"
}

func (s *Step) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"schema":       map[string]any{"type": "object"},
			"requiredKeys": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}

func (s *Step) Execute(_ context.Context, step *models.PipelineStep, _ *protocol.ExecutionContext, inputs models.StepInputs) (*protocol.StepResult, error) {
	started := time.Now()

	var cfg Config
	if err := protocol.DecodeConfig(step, inputs, &cfg); err != nil {
		return nil, err
	}

	data := subject(inputs)
	problems := make([]string, 0)

	if len(cfg.RequiredKeys) > 0 {
		object, _ := data.(map[string]any)
		for _, key := range cfg.RequiredKeys {
			if _, ok := object[key]; !ok {
				problems = append(problems, fmt.Sprintf("missing required key '%s'", key))
			}
		}
	}

	if cfg.Schema != nil {
		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(cfg.Schema), gojsonschema.NewGoLoader(data))
		if err != nil {
			return nil, models.NewInvalidStepConfigError(step.Name, "invalid schema: "+err.Error())
		}

		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
	}

	if len(problems) > 0 {
		return protocol.Failed(step, started, "validation failed: "+strings.Join(problems, "; ")), nil
	}

	output := map[string]any{
		"valid":        true,
		"checked_keys": len(cfg.RequiredKeys),
	}

	return protocol.Completed(step, started, output, 1), nil
}

// subject is the data input when present, otherwise every non-config input.
func subject(inputs models.StepInputs) any {
	if data, ok := inputs["data"]; ok {
		return data
	}

	out := make(map[string]any, len(inputs))

	for key, value := range inputs {
		if !configKeys[key] {
			out[key] = value
		}
	}

	return out
}
