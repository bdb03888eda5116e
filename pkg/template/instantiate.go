package template

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kbforge/kbforge/pkg/models"
)

// Instantiate creates a new draft pipeline from tpl. Step config values that are
// exactly "{{key}}" are replaced by params[key] when present; everything else is
// copied as is. Instantiate never fails, unmatched placeholders stay literal.
func Instantiate(tpl *models.PipelineTemplate, name string, params map[string]any) *models.Pipeline {
	now := time.Now().UTC()

	spec := CopySpec(tpl.Spec)
	for _, step := range spec.Steps {
		step.Config = SubstituteParameters(step.Config, params)
	}

	return &models.Pipeline{
		ID:          uuid.New().String(),
		Name:        name,
		Description: tpl.Description,
		Spec:        spec,
		Templates:   []string{tpl.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      models.PipelineStatusDraft,
		Tags:        append([]string{}, tpl.Tags...),
		Metadata:    map[string]any{"template_version": tpl.Version},
	}
}

// SubstituteParameters returns a copy of config with whole-value placeholders resolved.
func SubstituteParameters(config map[string]any, params map[string]any) map[string]any {
	out := make(map[string]any, len(config))

	for key, value := range config {
		out[key] = value

		s, ok := value.(string)
		if !ok {
			continue
		}

		name, ok := placeholderName(s)
		if !ok {
			continue
		}

		if replacement, found := params[name]; found {
			out[key] = replacement
		}
	}

	return out
}

// Placeholders lists the parameter names referenced by step configs of spec.
func Placeholders(spec models.PipelineSpec) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)

	for _, step := range spec.Steps {
		for _, value := range step.Config {
			s, ok := value.(string)
			if !ok {
				continue
			}

			if name, ok := placeholderName(s); ok && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	return names
}

// IsPlaceholder reports whether s is a whole-value "{{param}}" reference.
func IsPlaceholder(s string) bool {
	_, ok := placeholderName(s)

	return ok
}

func placeholderName(s string) (string, bool) {
	if len(s) < 5 || !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}

	name := s[2 : len(s)-2]
	if strings.ContainsAny(name, "{} \t") {
		return "", false
	}

	return name, true
}

// CopySpec deep-copies a spec so instantiated pipelines never share state with templates.
func CopySpec(spec models.PipelineSpec) models.PipelineSpec {
	out := models.PipelineSpec{
		Version:    spec.Version,
		Steps:      make([]*models.PipelineStep, 0, len(spec.Steps)),
		Parameters: make(map[string]*models.PipelineParameter, len(spec.Parameters)),
		Triggers:   make([]*models.PipelineTrigger, 0, len(spec.Triggers)),
	}

	for _, step := range spec.Steps {
		out.Steps = append(out.Steps, copyStep(step))
	}

	for name, param := range spec.Parameters {
		p := *param
		if param.Validation != nil {
			v := *param.Validation
			v.Enum = append([]any(nil), param.Validation.Enum...)
			p.Validation = &v
		}

		out.Parameters[name] = &p
	}

	if spec.Resources != nil {
		r := *spec.Resources
		out.Resources = &r
	}

	for _, trigger := range spec.Triggers {
		t := *trigger
		t.Config = copyMap(trigger.Config)
		out.Triggers = append(out.Triggers, &t)
	}

	return out
}

func copyStep(step *models.PipelineStep) *models.PipelineStep {
	s := *step
	s.Config = copyMap(step.Config)
	s.Dependencies = append([]string{}, step.Dependencies...)

	s.Inputs = make([]*models.StepInput, 0, len(step.Inputs))
	for _, input := range step.Inputs {
		in := *input
		s.Inputs = append(s.Inputs, &in)
	}

	s.Outputs = make([]*models.StepOutput, 0, len(step.Outputs))
	for _, output := range step.Outputs {
		o := *output
		s.Outputs = append(s.Outputs, &o)
	}

	if step.RetryPolicy != nil {
		rp := *step.RetryPolicy
		s.RetryPolicy = &rp
	}

	return &s
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}

	return out
}

func copyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return copyMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = copyValue(item)
		}

		return out
	case []string:
		return append([]string{}, value...)
	}

	return v
}
