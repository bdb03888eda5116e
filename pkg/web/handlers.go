// Package web provides HTTP handlers and REST API endpoints for pipeline management.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/registry"
	"github.com/kbforge/kbforge/pkg/services"
)

type APIHandlers struct {
	pipelineService *services.Pipeline
	validator       *validator.Validate
	registry        *registry.Registry
}

func NewAPIHandlers(
	pipelineService *services.Pipeline,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		pipelineService: pipelineService,
		validator:       validator,
		registry:        registry,
	}
}

func (h *APIHandlers) GetPipelines(c fiber.Ctx) error {
	pipelines, err := h.pipelineService.ListPipelines(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]*models.Pipeline, 0, len(pipelines))
		for _, pipeline := range pipelines {
			if string(pipeline.Status) == status {
				filtered = append(filtered, pipeline)
			}
		}

		pipelines = filtered
	}

	return c.JSON(fiber.Map{
		"pipelines":   pipelines,
		"total_count": len(pipelines),
	})
}

func (h *APIHandlers) GetPipeline(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	pipeline, err := h.pipelineService.GetPipeline(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(pipeline)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.pipelineService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "KBForge API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "KBForge API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreatePipeline(c fiber.Ctx) error {
	var req CreatePipelineRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.pipelineService.CreatePipeline(c.Context(), services.CreatePipelineRequest{
		Name:        req.Name,
		Description: req.Description,
		TemplateID:  req.TemplateID,
		Parameters:  req.Parameters,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdatePipeline(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	var req UpdatePipelineRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.pipelineService.UpdatePipeline(c.Context(), id, services.PipelineUpdate{
		Name:        req.Name,
		Description: req.Description,
		Spec:        req.Spec,
		Status:      req.Status,
		Tags:        req.Tags,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeletePipeline(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	if err := h.pipelineService.DeletePipeline(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidatePipeline(c fiber.Ctx) error {
	result, err := h.pipelineService.ValidatePipeline(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetPipelineHealth(c fiber.Ctx) error {
	health, err := h.pipelineService.GetPipelineHealth(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(health)
}

// ExecutePipeline starts a manual run and answers 202 with the Pending run.
func (h *APIHandlers) ExecutePipeline(c fiber.Ctx) error {
	var req ExecutePipelineRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	trigger := models.NewManualTrigger("api")
	trigger.UserID = req.UserID

	run, err := h.pipelineService.ExecutePipeline(c.Context(), c.Params("id"), req.Parameters, trigger)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

// Webhook starts a run of a pipeline that declares an enabled webhook
// trigger. The JSON body, if any, becomes the run parameters.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	id := c.Params("id")

	pipeline, err := h.pipelineService.GetPipeline(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !pipeline.HasEnabledTrigger(models.TriggerTypeWebhook) {
		return notFound(c, "No webhook trigger enabled for pipeline "+id)
	}

	if pipeline.Status != models.PipelineStatusActive {
		return conflict(c, "Pipeline "+id+" is "+string(pipeline.Status))
	}

	var params map[string]any

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&params); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := h.pipelineService.ExecutePipeline(c.Context(), id, params, models.NewTrigger(models.TriggerTypeWebhook, c.IP()))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) GetPipelineRuns(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.pipelineService.GetPipeline(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return h.listRuns(c, &id)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	var pipelineID *string
	if id := c.Query("pipeline_id"); id != "" {
		pipelineID = &id
	}

	return h.listRuns(c, pipelineID)
}

func (h *APIHandlers) listRuns(c fiber.Ctx, pipelineID *string) error {
	runs, err := h.pipelineService.ListRuns(c.Context(), pipelineID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.pipelineService.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.pipelineService.CancelExecution(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	run, err := h.pipelineService.GetRun(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates := h.pipelineService.ListTemplates(c.Context())

	summaries := make([]TemplateSummary, 0, len(templates))
	for _, tpl := range templates {
		summaries = append(summaries, TransformTemplateSummary(tpl))
	}

	return c.JSON(fiber.Map{
		"templates":   summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	tpl, err := h.pipelineService.GetTemplate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tpl)
}

func (h *APIHandlers) CreateFromTemplate(c fiber.Ctx) error {
	var req CreateFromTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.pipelineService.CreateFromTemplate(c.Context(), c.Params("id"), req.Name, req.Parameters)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ValidateTemplateParameters(c fiber.Ctx) error {
	var req TemplateParametersRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	warnings, err := h.pipelineService.ValidateTemplateParameters(c.Context(), c.Params("id"), req.Parameters)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TemplateParametersResponse{
		Valid:    len(warnings) == 0,
		Warnings: warnings,
	})
}

func (h *APIHandlers) GetMetrics(c fiber.Ctx) error {
	metrics, err := h.pipelineService.GetExecutionMetrics(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(metrics)
}

// RegisterRoutes mounts every endpoint on router.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	p := router.Group("/pipelines")
	p.Get("/", h.GetPipelines)
	p.Post("/", h.CreatePipeline)
	p.Get("/:id", h.GetPipeline)
	p.Patch("/:id", h.UpdatePipeline)
	p.Delete("/:id", h.DeletePipeline)
	p.Post("/:id/validate", h.ValidatePipeline)
	p.Get("/:id/health", h.GetPipelineHealth)
	p.Post("/:id/runs", h.ExecutePipeline)
	p.Get("/:id/runs", h.GetPipelineRuns)

	r := router.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)

	t := router.Group("/templates")
	t.Get("/", h.GetTemplates)
	t.Get("/:id", h.GetTemplate)
	t.Post("/:id/pipelines", h.CreateFromTemplate)
	t.Post("/:id/validate", h.ValidateTemplateParameters)

	router.Post("/webhooks/:id", h.Webhook)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/health", h.HealthCheck)
}
