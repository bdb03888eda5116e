package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kbforge/kbforge/pkg/eventbus"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/executor"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/kbforge/kbforge/pkg/template"
)

// StepValidator checks a step against its executor.
type StepValidator interface {
	ValidateConfig(step *models.PipelineStep) error
}

// Pipeline owns the pipeline and run indices. The indices are guarded by mu,
// which is never held across step execution or collaborator calls.
type Pipeline struct {
	persistence persistence.Persistence
	executor    *executor.Executor
	templates   *template.Registry
	models      protocol.ModelRegistry
	steps       StepValidator
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time

	maxRunsPerPipeline int

	mu        sync.RWMutex
	pipelines map[string]*models.Pipeline
	runs      map[string]*runEntry

	wg        sync.WaitGroup
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

type runEntry struct {
	run    *models.PipelineRun
	cancel context.CancelFunc
}

type Option func(*Pipeline)

func WithTemplates(templates *template.Registry) Option {
	return func(p *Pipeline) { p.templates = templates }
}

// WithModelRegistry enables embed model checks during validation.
func WithModelRegistry(registry protocol.ModelRegistry) Option {
	return func(p *Pipeline) { p.models = registry }
}

// WithStepValidator checks step configs against the registered executors.
func WithStepValidator(steps StepValidator) Option {
	return func(p *Pipeline) { p.steps = steps }
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(p *Pipeline) {
		if publisher != nil {
			p.publisher = publisher
		}
	}
}

// WithMaxRunsPerPipeline caps concurrent runs of one pipeline; 0 means unlimited.
func WithMaxRunsPerPipeline(limit int) Option {
	return func(p *Pipeline) { p.maxRunsPerPipeline = limit }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a new pipeline service.
func NewPipeline(persistence persistence.Persistence, exec *executor.Executor, logger *slog.Logger, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		persistence: persistence,
		executor:    exec,
		templates:   template.Builtin(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "pipeline_service"),
		now:         func() time.Time { return time.Now().UTC() },
		pipelines:   make(map[string]*models.Pipeline),
		runs:        make(map[string]*runEntry),
		publisher:   eventbus.Nop{},
		baseCtx:     ctx,
		cancelAll:   cancel,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Warm loads stored pipelines and runs into the indices.
func (p *Pipeline) Warm(ctx context.Context) error {
	pipelines, err := p.persistence.PipelineRepository().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pipelines: %w", err)
	}

	runs, err := p.persistence.RunRepository().List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pipeline := range pipelines {
		p.pipelines[pipeline.ID] = pipeline
	}

	for _, run := range runs {
		if _, ok := p.runs[run.ID]; !ok {
			p.runs[run.ID] = &runEntry{run: run}
		}
	}

	p.logger.InfoContext(ctx, "Loaded stored pipelines", "pipelines", len(pipelines), "runs", len(runs))

	return nil
}

// HealthCheck checks the health of the persistence layer.
func (p *Pipeline) HealthCheck(ctx context.Context) (string, bool) {
	if p.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := p.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreatePipelineRequest describes a new pipeline. With a TemplateID the steps
// are instantiated from that template, otherwise the pipeline starts empty.
type CreatePipelineRequest struct {
	Name        string         `json:"name"                  validate:"required,min=1,max=200"`
	Description string         `json:"description"`
	TemplateID  *string        `json:"template_id,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CreatePipeline validates and stores a new pipeline.
func (p *Pipeline) CreatePipeline(ctx context.Context, req CreatePipelineRequest) (*models.Pipeline, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrPipelineNameRequired
	}

	if err := p.validate.Struct(req); err != nil {
		return nil, NewValidationError("CreatePipeline", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	var pipeline *models.Pipeline

	if req.TemplateID != nil {
		tpl, err := p.templates.Get(*req.TemplateID)
		if err != nil {
			return nil, err
		}

		pipeline = template.Instantiate(tpl, req.Name, req.Parameters)
		bindParameterDefaults(pipeline, req.Parameters)

		if req.Description != "" {
			pipeline.Description = req.Description
		}
	} else {
		pipeline = models.NewPipeline(req.Name, req.Description)
	}

	result := p.ValidateSpec(ctx, pipeline)
	if !result.IsValid {
		return nil, models.NewValidationFailedError(result.Messages())
	}

	if err := p.persistence.PipelineRepository().Save(ctx, pipeline); err != nil {
		return nil, fmt.Errorf("failed to save pipeline: %w", err)
	}

	p.mu.Lock()
	p.pipelines[pipeline.ID] = pipeline
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Pipeline created", "pipeline_id", pipeline.ID, "name", pipeline.Name)
	p.publishPipelineChanged(ctx, events.PipelineCreatedEvent, pipeline)

	return pipeline, nil
}

// bindParameterDefaults records instantiation values as parameter defaults so
// later runs need not repeat them.
func bindParameterDefaults(pipeline *models.Pipeline, params map[string]any) {
	for name, value := range params {
		if param, ok := pipeline.Spec.Parameters[name]; ok {
			param.Default = value
		}
	}
}

// GetPipeline reads the index, falling back to the record store.
func (p *Pipeline) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	p.mu.RLock()
	pipeline, ok := p.pipelines[id]
	p.mu.RUnlock()

	if ok {
		return pipeline, nil
	}

	pipeline, err := p.persistence.PipelineRepository().GetByID(ctx, id)
	if persistence.IsPipelineNotFound(err) {
		return nil, models.NewNotFoundError(id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}

	p.mu.Lock()
	if cached, ok := p.pipelines[id]; ok {
		pipeline = cached
	} else {
		p.pipelines[id] = pipeline
	}
	p.mu.Unlock()

	return pipeline, nil
}

// ListPipelines merges the index with the record store, newest first.
func (p *Pipeline) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	stored, err := p.persistence.PipelineRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	p.mu.Lock()

	for _, pipeline := range stored {
		if _, ok := p.pipelines[pipeline.ID]; !ok {
			p.pipelines[pipeline.ID] = pipeline
		}
	}

	pipelines := make([]*models.Pipeline, 0, len(p.pipelines))
	for _, pipeline := range p.pipelines {
		pipelines = append(pipelines, pipeline)
	}

	p.mu.Unlock()

	sort.Slice(pipelines, func(i, j int) bool {
		if pipelines[i].CreatedAt.Equal(pipelines[j].CreatedAt) {
			return pipelines[i].ID < pipelines[j].ID
		}

		return pipelines[i].CreatedAt.After(pipelines[j].CreatedAt)
	})

	return pipelines, nil
}

// PipelineUpdate holds the fields to change; nil fields are left untouched.
type PipelineUpdate struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Spec        *models.PipelineSpec   `json:"spec,omitempty"`
	Status      *models.PipelineStatus `json:"status,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// UpdatePipeline applies update, re-validates and stores the merged pipeline.
func (p *Pipeline) UpdatePipeline(ctx context.Context, id string, update PipelineUpdate) (*models.Pipeline, error) {
	current, err := p.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := clonePipeline(current)

	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			return nil, ErrPipelineNameRequired
		}

		updated.Name = *update.Name
	}

	if update.Description != nil {
		updated.Description = *update.Description
	}

	if update.Spec != nil {
		updated.Spec = template.CopySpec(*update.Spec)
	}

	if update.Status != nil {
		if !update.Status.Valid() {
			return nil, NewValidationError("UpdatePipeline", "invalid_status",
				fmt.Sprintf("unknown status %q", *update.Status), ErrInvalidStatus)
		}

		updated.Status = *update.Status
	}

	if update.Tags != nil {
		updated.Tags = append([]string{}, update.Tags...)
	}

	result := p.ValidateSpec(ctx, updated)
	if !result.IsValid {
		return nil, models.NewValidationFailedError(result.Messages())
	}

	updated.UpdatedAt = p.now()

	if err := p.persistence.PipelineRepository().Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save pipeline: %w", err)
	}

	p.mu.Lock()
	p.pipelines[id] = updated
	p.mu.Unlock()

	p.publishPipelineChanged(ctx, events.PipelineUpdatedEvent, updated)

	return updated, nil
}

// DeletePipeline removes the pipeline from the index and the record store.
// Runs of the pipeline are kept.
func (p *Pipeline) DeletePipeline(ctx context.Context, id string) error {
	pipeline, err := p.GetPipeline(ctx, id)
	if err != nil {
		return err
	}

	err = p.persistence.PipelineRepository().Delete(ctx, id)
	if err != nil && !persistence.IsPipelineNotFound(err) {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}

	p.mu.Lock()
	delete(p.pipelines, id)
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Pipeline deleted", "pipeline_id", id)
	p.publishPipelineChanged(ctx, events.PipelineDeletedEvent, pipeline)

	return nil
}

// ListTemplates returns the built-in templates ordered by id.
func (p *Pipeline) ListTemplates(_ context.Context) []*models.PipelineTemplate {
	return p.templates.List()
}

// GetTemplate resolves a template id or short alias.
func (p *Pipeline) GetTemplate(_ context.Context, id string) (*models.PipelineTemplate, error) {
	return p.templates.Get(id)
}

// CreateFromTemplate is CreatePipeline with a template id.
func (p *Pipeline) CreateFromTemplate(ctx context.Context, templateID, name string, params map[string]any) (*models.Pipeline, error) {
	return p.CreatePipeline(ctx, CreatePipelineRequest{
		Name:       name,
		TemplateID: &templateID,
		Parameters: params,
	})
}

func (p *Pipeline) publishPipelineChanged(ctx context.Context, eventType events.EventType, pipeline *models.Pipeline) {
	p.publish(ctx, pipeline.ID, events.PipelineChanged{
		BaseEvent: events.NewBaseEvent(eventType, pipeline.ID, ""),
		Name:      pipeline.Name,
		Status:    pipeline.Status,
	})
}

func (p *Pipeline) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := p.publisher.Publish(ctx, key, event); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func clonePipeline(pipeline *models.Pipeline) *models.Pipeline {
	clone := *pipeline
	clone.Spec = template.CopySpec(pipeline.Spec)
	clone.Templates = append([]string{}, pipeline.Templates...)
	clone.Tags = append([]string{}, pipeline.Tags...)

	clone.Metadata = make(map[string]any, len(pipeline.Metadata))
	for key, value := range pipeline.Metadata {
		clone.Metadata[key] = value
	}

	return &clone
}

// runNotFoundOrErr maps a record store miss to the engine not-found error.
func runNotFoundOrErr(runID string, err error) error {
	if errors.Is(err, persistence.ErrRunNotFound) {
		return models.NewRunNotFoundError(runID)
	}

	return fmt.Errorf("failed to get run: %w", err)
}
