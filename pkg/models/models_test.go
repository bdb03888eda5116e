package models

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestNewPipeline(t *testing.T) {
	p := NewPipeline("Docs", "product docs")

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, PipelineStatusDraft, p.Status)
	assert.Equal(t, SpecVersion, p.Spec.Version)
	assert.Empty(t, p.Spec.Steps)
	assert.Equal(t, 1, p.Spec.MaxParallelSteps())
}

func TestPipelineParameter_Validate(t *testing.T) {
	t.Parallel()

	name := &PipelineParameter{
		Name:     "name",
		Type:     ParameterTypeString,
		Required: true,
		Validation: &ParameterValidation{
			Min:     floatPtr(2),
			Max:     floatPtr(100),
			Pattern: `^[a-zA-Z0-9][a-zA-Z0-9\s\-_]*$`,
		},
	}
	model := &PipelineParameter{
		Name: "embeddingModel",
		Type: ParameterTypeString,
		Validation: &ParameterValidation{
			Enum: []any{"all-MiniLM-L6-v2", "all-mpnet-base-v2"},
		},
	}

	tests := []struct {
		name    string
		param   *PipelineParameter
		value   any
		wantErr bool
	}{
		{"valid name", name, "Docs", false},
		{"missing required", name, nil, true},
		{"too short", name, "D", true},
		{"bad pattern", name, "-docs", true},
		{"wrong type", name, 42, true},
		{"enum member", model, "all-mpnet-base-v2", false},
		{"enum outsider", model, "gpt", true},
		{"optional absent", model, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.param.Validate(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrParameterValidationFailed)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 4, InitialDelayMs: 100, BackoffMultiplier: 2, MaxDelayMs: 300}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 300*time.Millisecond, policy.Delay(3))
}

func TestRetryPolicy_DelayUncappedDoesNotOverflow(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 200, InitialDelayMs: 1000, BackoffMultiplier: 10}

	assert.Equal(t, 10*time.Second, policy.Delay(2))

	for _, attempt := range []uint32{20, 64, 199} {
		delay := policy.Delay(attempt)
		assert.Positive(t, delay, "attempt %d", attempt)
		assert.Equal(t, time.Duration(math.MaxInt64), delay, "attempt %d", attempt)
	}
}

func TestPipelineStep_Timeout(t *testing.T) {
	seconds := uint64(5)

	assert.Equal(t, 1800*time.Second, (&PipelineStep{}).Timeout())
	assert.Equal(t, 5*time.Second, (&PipelineStep{TimeoutSeconds: &seconds}).Timeout())
}

func TestPipelineError_Messages(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		want string
	}{
		{NewNotFoundError("p1"), ErrNotFound, "pipeline not found: p1"},
		{NewRunNotFoundError("r1"), ErrNotFound, "run not found: r1"},
		{NewInvalidStepConfigError("Fetch", "missing 'source' parameter"), ErrInvalidStepConfig, "invalid step configuration for 'Fetch': missing 'source' parameter"},
		{NewTimeoutError("Embed", "embed-1", 5), ErrTimeout, "step 'Embed' (embed-1) timed out after 5 seconds"},
		{NewTimeoutError("embed", "embed", 5), ErrTimeout, "step 'embed' timed out after 5 seconds"},
		{NewModelError("e5", "corrupt", "all-MiniLM-L6-v2"), ErrModelError, "model error for e5: corrupt - fallback: all-MiniLM-L6-v2"},
		{NewValidationFailedError([]string{"a", "b"}), ErrValidationFailed, "pipeline validation failed: a; b"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
		assert.ErrorIs(t, tt.err, tt.kind)
	}
}

func TestPipelineError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(ErrStorage, "store manifest", cause)

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage error: store manifest: disk full", err.Error())
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(NewInvalidStepConfigError("s", "bad")))
	assert.True(t, IsPermanent(NewModelNotAvailableError("m", "download", "f")))
	assert.False(t, IsPermanent(WrapError(ErrIO, "read", errors.New("eof"))))
	assert.False(t, IsPermanent(errors.New("transient")))
}

func TestExtractDocuments(t *testing.T) {
	fetchOutput := map[string]any{
		"source_type": "local-folder",
		"files": []any{
			map[string]any{"path": "a.md", "content": "hello", "size": 5},
		},
	}

	docs, err := ExtractDocuments(fetchOutput, "documents", "files")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.md", docs[0].Path)
	assert.Equal(t, int64(5), docs[0].Size)

	typed, err := ExtractDocuments(map[string]any{"files": []Document{{Path: "b.md"}}}, "files")
	require.NoError(t, err)
	assert.Equal(t, "b.md", typed[0].Path)
}

func TestValidationResult(t *testing.T) {
	result := NewValidationResult()
	assert.True(t, result.IsValid)

	result.AddWarning(ValidationWarningPerformance, "", "slow", WarningLevelLow)
	assert.True(t, result.IsValid)

	result.AddError(ValidationErrorMissingConnection, "chunk", "missing")
	assert.False(t, result.IsValid)
	assert.Equal(t, []string{"missing"}, result.Messages())
	assert.Equal(t, "chunk", *result.Errors[0].StepID)
}
