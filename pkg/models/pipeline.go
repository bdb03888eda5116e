// Package models defines the core domain models for knowledge-base pipelines.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the pipeline spec format written by this package.
const SpecVersion = "1.0.0"

// PipelineStatus represents the lifecycle state of a pipeline.
type PipelineStatus string

const (
	PipelineStatusDraft    PipelineStatus = "draft"    // Created, never activated
	PipelineStatusActive   PipelineStatus = "active"   // Eligible for scheduled and webhook triggers
	PipelineStatusPaused   PipelineStatus = "paused"   // Triggers suspended
	PipelineStatusError    PipelineStatus = "error"    // Last validation or execution broke the pipeline
	PipelineStatusArchived PipelineStatus = "archived" // Kept for history only
)

// Valid reports whether s is a known pipeline status.
func (s PipelineStatus) Valid() bool {
	switch s {
	case PipelineStatusDraft, PipelineStatusActive, PipelineStatusPaused, PipelineStatusError, PipelineStatusArchived:
		return true
	}

	return false
}

// Pipeline is a named, versioned DAG of steps plus declared parameters and triggers.
type Pipeline struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"                   validate:"required,min=1,max=200"`
	Description string         `json:"description,omitempty"`
	Spec        PipelineSpec   `json:"spec"`
	Templates   []string       `json:"templates"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Status      PipelineStatus `json:"status"                 validate:"required"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewPipeline returns a draft pipeline with an empty spec.
func NewPipeline(name, description string) *Pipeline {
	now := time.Now().UTC()

	return &Pipeline{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Spec: PipelineSpec{
			Version:    SpecVersion,
			Steps:      make([]*PipelineStep, 0),
			Parameters: make(map[string]*PipelineParameter),
			Triggers:   make([]*PipelineTrigger, 0),
		},
		Templates: make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    PipelineStatusDraft,
		Tags:      make([]string, 0),
		Metadata:  make(map[string]any),
	}
}

// StepByID returns the step with the given id.
func (p *Pipeline) StepByID(id string) (*PipelineStep, bool) {
	for _, step := range p.Spec.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// PipelineSpec is the executable part of a pipeline.
type PipelineSpec struct {
	Version    string                        `json:"version"`
	Steps      []*PipelineStep               `json:"steps"      validate:"dive"`
	Parameters map[string]*PipelineParameter `json:"parameters"`
	Resources  *PipelineResources            `json:"resources,omitempty"`
	Triggers   []*PipelineTrigger            `json:"triggers"`
}

// ParameterDefaults returns the declared default value of every parameter that has one.
func (s *PipelineSpec) ParameterDefaults() map[string]any {
	defaults := make(map[string]any)

	for name, param := range s.Parameters {
		if param != nil && param.Default != nil {
			defaults[name] = param.Default
		}
	}

	return defaults
}

// MaxParallelSteps returns the declared parallelism bound, or 1 when none is set.
func (s *PipelineSpec) MaxParallelSteps() int {
	if s.Resources == nil || s.Resources.MaxParallelSteps == nil || *s.Resources.MaxParallelSteps < 1 {
		return 1
	}

	return *s.Resources.MaxParallelSteps
}

// PipelineResources declares resource hints for a pipeline.
type PipelineResources struct {
	CPU              *float64 `json:"cpu,omitempty"`
	MemoryMB         *uint64  `json:"memory_mb,omitempty"`
	DiskMB           *uint64  `json:"disk_mb,omitempty"`
	TimeoutSeconds   *uint64  `json:"timeout_seconds,omitempty"`
	MaxParallelSteps *int     `json:"max_parallel_steps,omitempty"`
}

// TriggerType identifies what starts a run.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeFileWatch TriggerType = "file_watch"
	TriggerTypeWebhook   TriggerType = "webhook"
)

// PipelineTrigger declares how a pipeline may be started.
type PipelineTrigger struct {
	Type    TriggerType    `json:"type"`
	Config  map[string]any `json:"config,omitempty"`
	Enabled bool           `json:"enabled"`
}

// HasEnabledTrigger reports whether the pipeline declares an enabled trigger of the given type.
func (p *Pipeline) HasEnabledTrigger(triggerType TriggerType) bool {
	for _, trigger := range p.Spec.Triggers {
		if trigger != nil && trigger.Enabled && trigger.Type == triggerType {
			return true
		}
	}

	return false
}
