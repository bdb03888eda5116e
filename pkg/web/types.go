package web

import (
	"sort"

	"github.com/kbforge/kbforge/pkg/models"
)

// CreatePipelineRequest represents the request body for creating a new pipeline.
type CreatePipelineRequest struct {
	Name        string         `json:"name"                  validate:"required,min=1,max=200"`
	Description string         `json:"description"`
	TemplateID  *string        `json:"template_id,omitempty" validate:"omitempty,min=1"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// UpdatePipelineRequest represents the request body for updating an existing pipeline.
// All fields are optional to support partial updates.
type UpdatePipelineRequest struct {
	Name        *string                `json:"name,omitempty"        validate:"omitempty,min=1,max=200"`
	Description *string                `json:"description,omitempty"`
	Spec        *models.PipelineSpec   `json:"spec,omitempty"`
	Status      *models.PipelineStatus `json:"status,omitempty"      validate:"omitempty,oneof=draft active paused error archived"`
	Tags        []string               `json:"tags,omitempty"`
}

// ExecutePipelineRequest carries run parameters. The body is optional.
type ExecutePipelineRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
}

// CreateFromTemplateRequest represents the request body for instantiating a template.
type CreateFromTemplateRequest struct {
	Name       string         `json:"name"       validate:"required,min=1,max=200"`
	Parameters map[string]any `json:"parameters"`
}

// TemplateParametersRequest carries the parameters to check against a template.
type TemplateParametersRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// TemplateParametersResponse lists the problems found in template parameters.
type TemplateParametersResponse struct {
	Valid    bool                        `json:"valid"`
	Warnings []*models.ValidationWarning `json:"warnings"`
}

// TemplateSummary is the listing view of a template.
type TemplateSummary struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Category    models.TemplateCategory `json:"category"`
	Version     string                  `json:"version"`
	Tags        []string                `json:"tags"`
	Parameters  []string                `json:"parameters"`
	Steps       int                     `json:"steps"`
}

// TransformTemplateSummary reduces a template to its listing view.
func TransformTemplateSummary(tpl *models.PipelineTemplate) TemplateSummary {
	params := make([]string, 0, len(tpl.Spec.Parameters))
	for name := range tpl.Spec.Parameters {
		params = append(params, name)
	}

	sort.Strings(params)

	return TemplateSummary{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Category:    tpl.Category,
		Version:     tpl.Version,
		Tags:        tpl.Tags,
		Parameters:  params,
		Steps:       len(tpl.Spec.Steps),
	}
}
