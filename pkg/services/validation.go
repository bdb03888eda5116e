package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kbforge/kbforge/pkg/dag"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/steps/embed"
	"github.com/kbforge/kbforge/pkg/template"
)

// ValidatePipeline validates the stored pipeline with the given id.
func (p *Pipeline) ValidatePipeline(ctx context.Context, id string) (*models.ValidationResult, error) {
	pipeline, err := p.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	return p.ValidateSpec(ctx, pipeline), nil
}

// ValidateSpec collects every structural problem of pipeline. It never stops
// at the first error.
func (p *Pipeline) ValidateSpec(ctx context.Context, pipeline *models.Pipeline) *models.ValidationResult {
	result := models.NewValidationResult()

	p.validateFields(pipeline, result)

	ids := make(map[string]bool, len(pipeline.Spec.Steps))

	for _, step := range pipeline.Spec.Steps {
		if step == nil {
			result.AddError(models.ValidationErrorInvalidConfig, "", "pipeline contains an empty step")

			continue
		}

		if ids[step.ID] {
			result.AddError(models.ValidationErrorInvalidConfig, step.ID,
				fmt.Sprintf("duplicate step id '%s'", step.ID), "Give every step a unique id")
		}

		ids[step.ID] = true

		p.validateStepType(step, result)
	}

	validateConnections(pipeline.Spec.Steps, ids, result)
	validateCycles(pipeline.Spec.Steps, result)

	if res := pipeline.Spec.Resources; res != nil && res.MaxParallelSteps != nil && *res.MaxParallelSteps < 1 {
		result.AddError(models.ValidationErrorResourceConflict, "",
			fmt.Sprintf("max_parallel_steps must be at least 1, got %d", *res.MaxParallelSteps))
	}

	for _, step := range pipeline.Spec.Steps {
		if step != nil && step.Type == models.StepTypeEmbed {
			p.validateEmbedModel(ctx, step, result)
		}
	}

	return result
}

func (p *Pipeline) validateFields(pipeline *models.Pipeline, result *models.ValidationResult) {
	err := p.validate.Struct(pipeline)
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.AddError(models.ValidationErrorInvalidConfig, "", err.Error())

		return
	}

	for _, fieldErr := range fieldErrs {
		result.AddError(models.ValidationErrorInvalidConfig, "",
			fmt.Sprintf("field '%s' failed the '%s' rule", fieldErr.Namespace(), fieldErr.Tag()))
	}
}

func (p *Pipeline) validateStepType(step *models.PipelineStep, result *models.ValidationResult) {
	if !step.Type.Valid() {
		known := make([]string, 0, len(models.AllStepTypes()))
		for _, t := range models.AllStepTypes() {
			known = append(known, string(t))
		}

		result.AddError(models.ValidationErrorInvalidConfig, step.ID,
			fmt.Sprintf("unknown step type '%s' for step '%s'", step.Type, step.ID),
			"Use one of: "+strings.Join(known, ", "))

		return
	}

	if p.steps == nil {
		return
	}

	if err := p.steps.ValidateConfig(step); err != nil {
		result.AddError(models.ValidationErrorInvalidConfig, step.ID, err.Error())
	}
}

func validateConnections(steps []*models.PipelineStep, ids map[string]bool, result *models.ValidationResult) {
	for _, step := range steps {
		if step == nil {
			continue
		}

		for _, dep := range step.Dependencies {
			if !ids[dep] {
				result.AddError(models.ValidationErrorMissingConnection, step.ID,
					fmt.Sprintf("step '%s' depends on missing step '%s'", step.ID, dep),
					fmt.Sprintf("Add a step with id '%s' or remove the dependency", dep))
			}
		}

		for _, input := range step.Inputs {
			if input == nil || input.Source == nil || ids[*input.Source] {
				continue
			}

			result.AddError(models.ValidationErrorMissingConnection, step.ID,
				fmt.Sprintf("input '%s' of step '%s' reads from missing step '%s'", input.Name, step.ID, *input.Source))
		}
	}
}

func validateCycles(steps []*models.PipelineStep, result *models.ValidationResult) {
	present := make([]*models.PipelineStep, 0, len(steps))
	for _, step := range steps {
		if step != nil {
			present = append(present, step)
		}
	}

	cycle, err := dag.FindCycle(present)
	if err != nil {
		result.AddError(models.ValidationErrorCircularDependency, "", err.Error())

		return
	}

	if len(cycle) > 0 {
		result.AddError(models.ValidationErrorCircularDependency, cycle[0],
			"circular dependency: "+strings.Join(cycle, " -> "),
			"Remove one of the dependencies along the cycle")
	}
}

func (p *Pipeline) validateEmbedModel(ctx context.Context, step *models.PipelineStep, result *models.ValidationResult) {
	modelID, _ := step.Config["model"].(string)
	if modelID == "" {
		return
	}

	if template.IsPlaceholder(modelID) {
		result.AddWarning(models.ValidationWarningBestPractice, step.ID,
			fmt.Sprintf("embedding model %s is resolved from run parameters", modelID), models.WarningLevelLow)

		return
	}

	if p.models == nil {
		return
	}

	status, err := p.models.GetModelStatus(ctx, modelID)
	if err == nil && status.State == protocol.ModelStateDownloading {
		result.AddWarning(models.ValidationWarningModelOptimization, step.ID,
			fmt.Sprintf("model %s is still downloading (%.0f%%)", modelID, status.Progress*100), models.WarningLevelMedium)

		return
	}

	err = embed.CheckStatus(ctx, p.models, modelID, status, err)
	if err == nil {
		return
	}

	var suggestions []string

	var pipelineErr *models.PipelineError
	if errors.As(err, &pipelineErr) {
		if pipelineErr.Suggestion != "" {
			suggestions = append(suggestions, pipelineErr.Suggestion)
		}

		if pipelineErr.Fallback != "" {
			suggestions = append(suggestions, "Use fallback model "+pipelineErr.Fallback)
		}
	}

	result.AddError(models.ValidationErrorModelNotAvailable, step.ID, err.Error(), suggestions...)
}

// ValidateTemplateParameters checks params against the template's declared
// parameters. Problems are reported as warnings, one per parameter.
func (p *Pipeline) ValidateTemplateParameters(_ context.Context, templateID string, params map[string]any) ([]*models.ValidationWarning, error) {
	tpl, err := p.templates.Get(templateID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tpl.Spec.Parameters))
	for name := range tpl.Spec.Parameters {
		names = append(names, name)
	}

	sort.Strings(names)

	result := models.NewValidationResult()

	for _, name := range names {
		param := tpl.Spec.Parameters[name]

		value, ok := params[name]
		if !ok {
			if param.Required && param.Default == nil {
				result.AddWarning(models.ValidationWarningCompatibility, "",
					fmt.Sprintf("required parameter '%s' is missing", name), models.WarningLevelHigh)
			}

			continue
		}

		if err := param.Validate(value); err != nil {
			result.AddWarning(models.ValidationWarningCompatibility, "", err.Error(), models.WarningLevelMedium)
		}
	}

	return result.Warnings, nil
}
