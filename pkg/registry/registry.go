// Package registry maps step kinds to their executors.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	executors map[models.StepType]protocol.StepExecutor
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log,
		executors: make(map[models.StepType]protocol.StepExecutor),
	}
}

// Register adds or replaces the executor for its step kind.
func (r *Registry) Register(executor protocol.StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[executor.Type()] = executor

	r.logger.Debug("Registered step executor", "type", executor.Type())
}

// Get returns the executor for stepType, or ErrStepNotImplemented.
func (r *Registry) Get(stepType models.StepType) (protocol.StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[stepType]
	if !ok {
		return nil, models.NewStepNotImplementedError(stepType)
	}

	return executor, nil
}

// Types returns the registered step kinds, sorted.
func (r *Registry) Types() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.executors))
	for stepType := range r.executors {
		types = append(types, stepType)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// ValidateConfig checks step.Config against the executor's JSON schema.
func (r *Registry) ValidateConfig(step *models.PipelineStep) error {
	executor, err := r.Get(step.Type)
	if err != nil {
		return err
	}

	schema := executor.Schema()
	if schema == nil {
		return nil
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return models.NewInvalidStepConfigError(step.Name, err.Error())
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}

		return models.NewInvalidStepConfigError(step.Name, strings.Join(problems, "; "))
	}

	return nil
}

// HealthCheck reports whether every step kind has an executor.
func (r *Registry) HealthCheck() (string, bool) {
	registered := make(map[models.StepType]bool)
	for _, stepType := range r.Types() {
		registered[stepType] = true
	}

	missing := make([]string, 0)

	for _, stepType := range models.AllStepTypes() {
		if !registered[stepType] {
			missing = append(missing, string(stepType))
		}
	}

	if len(missing) > 0 {
		return fmt.Sprintf("Missing step executors: %s", strings.Join(missing, ", ")), false
	}

	return fmt.Sprintf("%d step executors registered", len(registered)), true
}
