// Package events defines event types and structures for pipeline and run lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/kbforge/kbforge/pkg/models"
)

type EventType string

// Topic carries every kbforge event.
const Topic = "kbforge.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Pipeline definition events.
	PipelineCreatedEvent EventType = "pipeline.created"
	PipelineUpdatedEvent EventType = "pipeline.updated"
	PipelineDeletedEvent EventType = "pipeline.deleted"

	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunFinishedEvent  EventType = "run.finished"
	RunCancelledEvent EventType = "run.cancelled"

	// Step lifecycle events.
	StepStartedEvent  EventType = "step.started"
	StepFinishedEvent EventType = "step.finished"
	StepRetriedEvent  EventType = "step.retried"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	PipelineID string         `json:"pipeline_id"`
	RunID      string         `json:"run_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, pipelineID, runID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		PipelineID: pipelineID,
		RunID:      runID,
		Metadata:   make(map[string]any),
	}
}

type PipelineChanged struct {
	BaseEvent

	Name   string                `json:"name"`
	Status models.PipelineStatus `json:"status,omitempty"`
}

func (p PipelineChanged) GetType() EventType {
	return p.Type
}

type RunStarted struct {
	BaseEvent

	Trigger    models.RunTrigger `json:"trigger"`
	StepsTotal uint32            `json:"steps_total"`
}

func (r RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	Status         models.RunStatus `json:"status"`
	StepsCompleted uint32           `json:"steps_completed"`
	StepsFailed    uint32           `json:"steps_failed"`
	Duration       time.Duration    `json:"duration"`
	Error          string           `json:"error,omitempty"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type RunCancelled struct {
	BaseEvent
}

func (r RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

type StepStarted struct {
	BaseEvent

	StepID   string          `json:"step_id"`
	StepType models.StepType `json:"step_type"`
}

func (s StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepFinished struct {
	BaseEvent

	StepID     string           `json:"step_id"`
	StepType   models.StepType  `json:"step_type"`
	Status     models.RunStatus `json:"status"`
	RetryCount uint32           `json:"retry_count"`
	DurationMs uint64           `json:"duration_ms"`
	Cached     bool             `json:"cached,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (s StepFinished) GetType() EventType {
	return StepFinishedEvent
}

type StepRetried struct {
	BaseEvent

	StepID  string        `json:"step_id"`
	Attempt uint32        `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Error   string        `json:"error"`
}

func (s StepRetried) GetType() EventType {
	return StepRetriedEvent
}
