package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run or a step run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimeout   RunStatus = "timeout"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusTimeout:
		return true
	}

	return false
}

// PipelineRun is one execution of a pipeline.
type PipelineRun struct {
	ID           string         `json:"id"`
	PipelineID   string         `json:"pipeline_id"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Status       RunStatus      `json:"status"`
	LogsRef      *string        `json:"logs_ref,omitempty"`
	ArtifactsRef *string        `json:"artifacts_ref,omitempty"`
	Metrics      RunMetrics     `json:"metrics"`
	StepRuns     []*StepRun     `json:"step_runs"`
	TriggeredBy  RunTrigger     `json:"triggered_by"`
	Parameters   map[string]any `json:"parameters"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
}

// NewPipelineRun returns a pending run for the given pipeline.
func NewPipelineRun(pipelineID string, trigger RunTrigger, parameters map[string]any) *PipelineRun {
	if parameters == nil {
		parameters = make(map[string]any)
	}

	return &PipelineRun{
		ID:          uuid.New().String(),
		PipelineID:  pipelineID,
		StartedAt:   time.Now().UTC(),
		Status:      RunStatusPending,
		StepRuns:    make([]*StepRun, 0),
		TriggeredBy: trigger,
		Parameters:  parameters,
	}
}

// Clone returns a copy of the run that shares no mutable slices with r.
// Outputs and parameters are shared since they are never mutated after a run ends.
func (r *PipelineRun) Clone() *PipelineRun {
	clone := *r
	clone.StepRuns = append([]*StepRun(nil), r.StepRuns...)
	clone.Warnings = append([]string(nil), r.Warnings...)

	return &clone
}

// RunMetrics aggregates counters for a run.
type RunMetrics struct {
	DurationMs       *uint64  `json:"duration_ms,omitempty"`
	StepsCompleted   uint32   `json:"steps_completed"`
	StepsTotal       uint32   `json:"steps_total"`
	StepsSkipped     uint32   `json:"steps_skipped"`
	StepsFailed      uint32   `json:"steps_failed"`
	DataProcessed    *uint64  `json:"data_processed,omitempty"`
	RecordsProcessed *uint64  `json:"records_processed,omitempty"`
	MemoryUsedMB     *uint64  `json:"memory_used_mb,omitempty"`
	CPUUsed          *float64 `json:"cpu_used,omitempty"`
}

// StepRun records one step execution inside a run.
type StepRun struct {
	ID           string      `json:"id"`
	StepID       string      `json:"step_id"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	Status       RunStatus   `json:"status"`
	DurationMs   *uint64     `json:"duration_ms,omitempty"`
	Output       any         `json:"output,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	RetryCount   uint32      `json:"retry_count"`
	Metrics      StepMetrics `json:"metrics"`
}

// StepMetrics are counters reported by a step executor.
type StepMetrics struct {
	InputSize        *uint64  `json:"input_size,omitempty"`
	OutputSize       *uint64  `json:"output_size,omitempty"`
	RecordsProcessed *uint64  `json:"records_processed,omitempty"`
	MemoryUsedMB     *uint64  `json:"memory_used_mb,omitempty"`
	CPUUsed          *float64 `json:"cpu_used,omitempty"`
}

// RunTrigger records what started a run.
type RunTrigger struct {
	Type      TriggerType `json:"type"`
	UserID    *string     `json:"user_id,omitempty"`
	Source    *string     `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewTrigger returns a trigger of the given type stamped now.
func NewTrigger(triggerType TriggerType, source string) RunTrigger {
	return RunTrigger{
		Type:      triggerType,
		Source:    &source,
		Timestamp: time.Now().UTC(),
	}
}

// NewManualTrigger returns a manual trigger stamped now.
func NewManualTrigger(source string) RunTrigger {
	return NewTrigger(TriggerTypeManual, source)
}
