package models

import (
	"math"
	"time"
)

// DefaultStepTimeoutSeconds applies to steps that do not declare a timeout.
const DefaultStepTimeoutSeconds uint64 = 1800

// StepType is the closed set of step kinds a pipeline can contain.
type StepType string

const (
	StepTypeFetch     StepType = "fetch"
	StepTypeParse     StepType = "parse"
	StepTypeNormalize StepType = "normalize"
	StepTypeChunk     StepType = "chunk"
	StepTypeAnnotate  StepType = "annotate"
	StepTypeEmbed     StepType = "embed"
	StepTypeIndex     StepType = "index"
	StepTypeEval      StepType = "eval"
	StepTypePack      StepType = "pack"
	StepTypeTransform StepType = "transform"
	StepTypeValidate  StepType = "validate"
)

// AllStepTypes lists every step kind in canonical ETL order.
func AllStepTypes() []StepType {
	return []StepType{
		StepTypeFetch,
		StepTypeParse,
		StepTypeNormalize,
		StepTypeChunk,
		StepTypeAnnotate,
		StepTypeEmbed,
		StepTypeIndex,
		StepTypeEval,
		StepTypePack,
		StepTypeTransform,
		StepTypeValidate,
	}
}

// Valid reports whether t is one of the known step kinds.
func (t StepType) Valid() bool {
	for _, known := range AllStepTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// StepIOType classifies a step input or output.
type StepIOType string

const (
	StepIOTypeFile      StepIOType = "file"
	StepIOTypeData      StepIOType = "data"
	StepIOTypeConfig    StepIOType = "config"
	StepIOTypeReference StepIOType = "reference"
)

// PipelineStep is a single node of the pipeline DAG.
type PipelineStep struct {
	ID             string         `json:"id"                        validate:"required"`
	Name           string         `json:"name"                      validate:"required"`
	Type           StepType       `json:"type"                      validate:"required"`
	Config         map[string]any `json:"config"`
	Inputs         []*StepInput   `json:"inputs"`
	Outputs        []*StepOutput  `json:"outputs"`
	Dependencies   []string       `json:"dependencies"`
	RetryPolicy    *RetryPolicy   `json:"retry_policy,omitempty"`
	TimeoutSeconds *uint64        `json:"timeout_seconds,omitempty"`
	Parallelizable bool           `json:"parallelizable"`
}

// Timeout returns the step timeout, falling back to DefaultStepTimeoutSeconds.
func (s *PipelineStep) Timeout() time.Duration {
	seconds := DefaultStepTimeoutSeconds
	if s.TimeoutSeconds != nil && *s.TimeoutSeconds > 0 {
		seconds = *s.TimeoutSeconds
	}

	return time.Duration(seconds) * time.Second
}

// StepInput declares a value a step consumes. When Source is set the value is the
// whole output of that step, otherwise it is read from the run parameters by Name.
type StepInput struct {
	Name     string     `json:"name"`
	Type     StepIOType `json:"type"`
	Required bool       `json:"required"`
	Source   *string    `json:"source,omitempty"`
	Default  any        `json:"default,omitempty"`
}

// StepOutput documents a value a step produces.
type StepOutput struct {
	Name        string     `json:"name"`
	Type        StepIOType `json:"type"`
	Description string     `json:"description,omitempty"`
}

// RetryPolicy bounds how often a failing step is re-attempted.
type RetryPolicy struct {
	MaxAttempts       uint32  `json:"max_attempts"`
	InitialDelayMs    uint64  `json:"initial_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	MaxDelayMs        uint64  `json:"max_delay_ms"`
}

// maxDelayMs is the longest delay, in milliseconds, a time.Duration can hold.
const maxDelayMs = float64(math.MaxInt64 / int64(time.Millisecond))

// Delay returns the wait before the given retry (1-based):
// initial × multiplier^(attempt-1), capped at MaxDelayMs.
func (r *RetryPolicy) Delay(attempt uint32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := r.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(r.InitialDelayMs) * math.Pow(multiplier, float64(attempt-1))
	if r.MaxDelayMs > 0 && delay > float64(r.MaxDelayMs) {
		delay = float64(r.MaxDelayMs)
	}

	if delay >= maxDelayMs {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay * float64(time.Millisecond))
}
