package models

// ValidationErrorType classifies a structural problem found in a pipeline.
type ValidationErrorType string

const (
	ValidationErrorMissingConnection  ValidationErrorType = "missing_connection"
	ValidationErrorCircularDependency ValidationErrorType = "circular_dependency"
	ValidationErrorInvalidConfig      ValidationErrorType = "invalid_config"
	ValidationErrorResourceConflict   ValidationErrorType = "resource_conflict"
	ValidationErrorModelNotAvailable  ValidationErrorType = "model_not_available"
)

// ValidationWarningType classifies a non-blocking finding.
type ValidationWarningType string

const (
	ValidationWarningPerformance       ValidationWarningType = "performance"
	ValidationWarningCompatibility     ValidationWarningType = "compatibility"
	ValidationWarningBestPractice      ValidationWarningType = "best_practice"
	ValidationWarningModelOptimization ValidationWarningType = "model_optimization"
)

// WarningLevel ranks warnings.
type WarningLevel string

const (
	WarningLevelLow    WarningLevel = "low"
	WarningLevelMedium WarningLevel = "medium"
	WarningLevelHigh   WarningLevel = "high"
)

type ValidationError struct {
	Type        ValidationErrorType `json:"type"`
	StepID      *string             `json:"step_id,omitempty"`
	Message     string              `json:"message"`
	Suggestions []string            `json:"suggestions,omitempty"`
}

type ValidationWarning struct {
	Type    ValidationWarningType `json:"type"`
	StepID  *string               `json:"step_id,omitempty"`
	Message string                `json:"message"`
	Level   WarningLevel          `json:"level"`
}

// ValidationResult is the outcome of validating a pipeline. IsValid holds
// exactly when Errors is empty.
type ValidationResult struct {
	IsValid  bool                 `json:"is_valid"`
	Errors   []*ValidationError   `json:"errors"`
	Warnings []*ValidationWarning `json:"warnings"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		IsValid:  true,
		Errors:   make([]*ValidationError, 0),
		Warnings: make([]*ValidationWarning, 0),
	}
}

// AddError records an error and marks the result invalid.
func (r *ValidationResult) AddError(errType ValidationErrorType, stepID, message string, suggestions ...string) {
	r.Errors = append(r.Errors, &ValidationError{
		Type:        errType,
		StepID:      optionalString(stepID),
		Message:     message,
		Suggestions: suggestions,
	})
	r.IsValid = false
}

// AddWarning records a warning.
func (r *ValidationResult) AddWarning(warnType ValidationWarningType, stepID, message string, level WarningLevel) {
	r.Warnings = append(r.Warnings, &ValidationWarning{
		Type:    warnType,
		StepID:  optionalString(stepID),
		Message: message,
		Level:   level,
	})
}

// Messages returns the error messages in the order they were recorded.
func (r *ValidationResult) Messages() []string {
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, e.Message)
	}

	return messages
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
