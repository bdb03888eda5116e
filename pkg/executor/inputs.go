package executor

import (
	"fmt"

	"github.com/kbforge/kbforge/pkg/models"
)

// GatherInputs builds the input map for step. A sourced input takes the whole
// output of its source step, an unsourced one the run parameter of the same
// name. Missing values fall back to the declared default unless required.
// Config keys are merged last and win over inputs of the same name.
func GatherInputs(step *models.PipelineStep, outputs, params map[string]any) (models.StepInputs, error) {
	inputs := make(models.StepInputs, len(step.Inputs)+len(step.Config))

	for _, input := range step.Inputs {
		if input == nil {
			continue
		}

		if input.Source != nil {
			if value, ok := outputs[*input.Source]; ok {
				inputs[input.Name] = value

				continue
			}

			if input.Required {
				return nil, models.NewDependencyError(
					fmt.Sprintf("required input '%s' not available from step '%s'", input.Name, *input.Source))
			}
		} else {
			if value, ok := params[input.Name]; ok {
				inputs[input.Name] = value

				continue
			}

			if input.Required {
				return nil, models.NewParameterValidationError(input.Name, "required parameter not provided")
			}
		}

		if input.Default != nil {
			inputs[input.Name] = input.Default
		}
	}

	for key, value := range step.Config {
		inputs[key] = value
	}

	return inputs, nil
}
