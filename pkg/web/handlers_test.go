package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/kbforge/kbforge/pkg/embedding"
	"github.com/kbforge/kbforge/pkg/executor"
	"github.com/kbforge/kbforge/pkg/modelregistry"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence/file"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/registry"
	"github.com/kbforge/kbforge/pkg/search"
	"github.com/kbforge/kbforge/pkg/services"
	"github.com/kbforge/kbforge/pkg/steps/annotate"
	"github.com/kbforge/kbforge/pkg/steps/chunk"
	"github.com/kbforge/kbforge/pkg/steps/embed"
	"github.com/kbforge/kbforge/pkg/steps/eval"
	"github.com/kbforge/kbforge/pkg/steps/fetch"
	"github.com/kbforge/kbforge/pkg/steps/index"
	"github.com/kbforge/kbforge/pkg/steps/normalize"
	"github.com/kbforge/kbforge/pkg/steps/pack"
	"github.com/kbforge/kbforge/pkg/steps/parse"
	"github.com/kbforge/kbforge/pkg/steps/transform"
	"github.com/kbforge/kbforge/pkg/steps/validate"
	"github.com/kbforge/kbforge/pkg/storage"
	"github.com/kbforge/kbforge/pkg/testutil"
	"github.com/kbforge/kbforge/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.Pipeline) {
	t.Helper()

	blobs, err := storage.NewLocal(slog.Default(), t.TempDir(), 0)
	require.NoError(t, err)

	modelStatus := modelregistry.NewStatic()
	modelStatus.Set("all-MiniLM-L6-v2", protocol.ModelStatus{State: protocol.ModelStateAvailable})

	searchIndex := search.NewMemory()

	registryInstance := registry.NewRegistry(slog.Default())
	registryInstance.Register(fetch.New(blobs, nil))
	registryInstance.Register(parse.New())
	registryInstance.Register(normalize.New())
	registryInstance.Register(chunk.New())
	registryInstance.Register(annotate.New())
	registryInstance.Register(embed.New(modelStatus, embedding.NewHashing(16)))
	registryInstance.Register(index.New(searchIndex))
	registryInstance.Register(eval.New(searchIndex))
	registryInstance.Register(pack.New(blobs))
	registryInstance.Register(transform.New())
	registryInstance.Register(validate.New())

	pipelineService := services.NewPipeline(
		file.NewPersistence(t.TempDir()),
		executor.New(registryInstance, slog.Default()),
		slog.Default(),
		services.WithStepValidator(registryInstance),
		services.WithModelRegistry(modelStatus),
	)

	t.Cleanup(func() {
		_ = pipelineService.Close(context.Background())
	})

	handlers := web.NewAPIHandlers(pipelineService, validator.New(validator.WithRequiredStructEnabled()), registryInstance)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, pipelineService
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	problemType, _ := problem["type"].(string)

	return problemType
}

// transformPipeline returns an active pipeline with one step that completes immediately.
func transformPipeline(t *testing.T, svc *services.Pipeline, triggers ...*models.PipelineTrigger) *models.Pipeline {
	t.Helper()

	created, err := svc.CreatePipeline(t.Context(), services.CreatePipelineRequest{Name: "Echo"})
	require.NoError(t, err)

	spec := testutil.CreateTestPipeline(testutil.CreateTestStep("echo", models.StepTypeTransform,
		testutil.WithStepConfig(map[string]any{"expression": "hello"}))).Spec
	spec.Triggers = triggers
	status := models.PipelineStatusActive

	updated, err := svc.UpdatePipeline(t.Context(), created.ID, services.PipelineUpdate{Spec: &spec, Status: &status})
	require.NoError(t, err)

	return updated
}

func TestAPIHandlers_CreatePipeline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful creation",
			requestBody:    web.CreatePipelineRequest{Name: "Docs", Description: "Product docs"},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var pipeline models.Pipeline
				require.NoError(t, json.Unmarshal(body, &pipeline))
				assert.Equal(t, "Docs", pipeline.Name)
				assert.Equal(t, "Product docs", pipeline.Description)
				assert.Equal(t, models.PipelineStatusDraft, pipeline.Status)
				assert.NotEmpty(t, pipeline.ID)
			},
		},
		{
			name: "creation from template",
			requestBody: web.CreatePipelineRequest{
				Name:       "Docs",
				TemplateID: stringPtr("local-folder"),
				Parameters: map[string]any{"sourceUrl": "/data", "name": "Docs", "product": "widget"},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var pipeline models.Pipeline
				require.NoError(t, json.Unmarshal(body, &pipeline))
				assert.Len(t, pipeline.Spec.Steps, 8)
				assert.Equal(t, []string{"kb-creation-local-folder"}, pipeline.Templates)
			},
		},
		{
			name:           "validation error - missing name",
			requestBody:    web.CreatePipelineRequest{Description: "no name"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown template",
			requestBody:    web.CreatePipelineRequest{Name: "Docs", TemplateID: stringPtr("nope")},
			expectedStatus: http.StatusNotFound,
			expectedType:   "template_not_found",
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doRequest(t, app, http.MethodPost, "/pipelines", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, problemType(t, body))
			}
		})
	}
}

func TestAPIHandlers_GetPipeline(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)

	created, err := svc.CreatePipeline(t.Context(), services.CreatePipelineRequest{Name: "Docs"})
	require.NoError(t, err)

	resp, body := doRequest(t, app, http.MethodGet, "/pipelines/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(body, &pipeline))
	assert.Equal(t, created.ID, pipeline.ID)

	resp, body = doRequest(t, app, http.MethodGet, "/pipelines/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", problemType(t, body))
}

func TestAPIHandlers_GetPipelines(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)

	transformPipeline(t, svc)
	_, err := svc.CreatePipeline(t.Context(), services.CreatePipelineRequest{Name: "Draft"})
	require.NoError(t, err)

	resp, body := doRequest(t, app, http.MethodGet, "/pipelines?status=active", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Pipelines  []models.Pipeline `json:"pipelines"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "Echo", result.Pipelines[0].Name)
}

func TestAPIHandlers_UpdatePipeline(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)

	created, err := svc.CreatePipeline(t.Context(), services.CreatePipelineRequest{Name: "Original"})
	require.NoError(t, err)

	resp, body := doRequest(t, app, http.MethodPatch, "/pipelines/"+created.ID, web.UpdatePipelineRequest{
		Name: stringPtr("Renamed"),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(body, &pipeline))
	assert.Equal(t, "Renamed", pipeline.Name)

	resp, body = doRequest(t, app, http.MethodPatch, "/pipelines/"+created.ID, `{"status":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", problemType(t, body))

	resp, _ = doRequest(t, app, http.MethodPatch, "/pipelines/missing", web.UpdatePipelineRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_DeletePipeline(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)

	created, err := svc.CreatePipeline(t.Context(), services.CreatePipelineRequest{Name: "Gone"})
	require.NoError(t, err)

	resp, _ := doRequest(t, app, http.MethodDelete, "/pipelines/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodDelete, "/pipelines/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecuteAndCancel(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)
	pipeline := transformPipeline(t, svc)

	resp, body := doRequest(t, app, http.MethodPost, "/pipelines/"+pipeline.ID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, pipeline.ID, run.PipelineID)
	assert.Equal(t, models.TriggerTypeManual, run.TriggeredBy.Type)

	svc.Wait()

	resp, body = doRequest(t, app, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	resp, body = doRequest(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", problemType(t, body))

	resp, _ = doRequest(t, app, http.MethodPost, "/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/pipelines/"+pipeline.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs struct {
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Equal(t, 1, runs.TotalCount)

	resp, body = doRequest(t, app, http.MethodGet, "/runs?pipeline_id=other", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Equal(t, 0, runs.TotalCount)
}

func TestAPIHandlers_ExecuteInvalidParameters(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)
	pipeline := transformPipeline(t, svc)

	resp, body := doRequest(t, app, http.MethodPost, "/pipelines/"+pipeline.ID+"/runs", "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", problemType(t, body))

	resp, _ = doRequest(t, app, http.MethodPost, "/pipelines/missing/runs", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Webhook(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)

	plain := transformPipeline(t, svc)
	hooked := transformPipeline(t, svc, &models.PipelineTrigger{Type: models.TriggerTypeWebhook, Enabled: true})

	resp, _ := doRequest(t, app, http.MethodPost, "/webhooks/"+plain.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doRequest(t, app, http.MethodPost, "/webhooks/"+hooked.ID, map[string]any{"ref": "main"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.TriggerTypeWebhook, run.TriggeredBy.Type)
	assert.Equal(t, "main", run.Parameters["ref"])

	paused := models.PipelineStatusPaused
	_, err := svc.UpdatePipeline(t.Context(), hooked.ID, services.PipelineUpdate{Status: &paused})
	require.NoError(t, err)

	resp, _ = doRequest(t, app, http.MethodPost, "/webhooks/"+hooked.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_ValidatePipeline(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)
	pipeline := transformPipeline(t, svc)

	resp, body := doRequest(t, app, http.MethodPost, "/pipelines/"+pipeline.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.ValidationResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestAPIHandlers_Templates(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Templates  []web.TemplateSummary `json:"templates"`
		TotalCount int                   `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 4, list.TotalCount)
	assert.Contains(t, list.Templates[0].Parameters, "sourceUrl")

	resp, _ = doRequest(t, app, http.MethodGet, "/templates/local-folder", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/templates/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "template_not_found", problemType(t, body))

	resp, body = doRequest(t, app, http.MethodPost, "/templates/local-folder/validate", web.TemplateParametersRequest{
		Parameters: map[string]any{"sourceUrl": "/data"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var check web.TemplateParametersResponse
	require.NoError(t, json.Unmarshal(body, &check))
	assert.False(t, check.Valid)
	assert.Len(t, check.Warnings, 2)

	resp, body = doRequest(t, app, http.MethodPost, "/templates/local-folder/pipelines", web.CreateFromTemplateRequest{
		Name:       "Docs",
		Parameters: map[string]any{"sourceUrl": "/data", "name": "Docs", "product": "widget"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(body, &pipeline))
	assert.Equal(t, "Docs", pipeline.Name)
}

func TestAPIHandlers_Metrics(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)
	pipeline := transformPipeline(t, svc)

	_, err := svc.ExecutePipeline(t.Context(), pipeline.ID, nil, models.NewManualTrigger("test"))
	require.NoError(t, err)
	svc.Wait()

	resp, body := doRequest(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var metrics services.ExecutionMetrics
	require.NoError(t, json.Unmarshal(body, &metrics))
	assert.Equal(t, 1, metrics.TotalPipelines)
	assert.Equal(t, 1, metrics.TotalExecutions)
	assert.InDelta(t, 100.0, metrics.SuccessRate, 1e-9)

	resp, body = doRequest(t, app, http.MethodGet, "/pipelines/"+pipeline.ID+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health services.PipelineHealth
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, 1, health.RunsLast7d)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

func stringPtr(s string) *string {
	return &s
}
