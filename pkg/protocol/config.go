package protocol

import (
	"fmt"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes step inputs into a typed config struct using
// `mapstructure` tags. Numbers and booleans given as strings are accepted.
func DecodeConfig(step *models.PipelineStep, inputs models.StepInputs, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}

	if err := decoder.Decode(map[string]any(inputs)); err != nil {
		return models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	return nil
}
