// Package dag resolves the execution order of pipeline steps.
package dag

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"
	"github.com/kbforge/kbforge/pkg/models"
)

const circularDependencyMessage = "circular dependency detected in pipeline steps"

// ExecutionOrder returns steps ordered so that every step follows all of its
// dependencies. Each pass appends, in list order, every step whose dependencies
// are already placed; ties therefore keep their original relative order. A pass
// that places nothing means a cycle or a dependency on a missing step.
func ExecutionOrder(steps []*models.PipelineStep) ([]*models.PipelineStep, error) {
	order := make([]*models.PipelineStep, 0, len(steps))
	placed := make(map[string]bool, len(steps))
	remaining := append([]*models.PipelineStep(nil), steps...)

	for len(remaining) > 0 {
		next := make([]*models.PipelineStep, 0, len(remaining))
		progressed := false

		for _, step := range remaining {
			if dependenciesPlaced(step, placed) {
				order = append(order, step)
				placed[step.ID] = true
				progressed = true

				continue
			}

			next = append(next, step)
		}

		if !progressed {
			return nil, models.NewDependencyError(circularDependencyMessage)
		}

		remaining = next
	}

	return order, nil
}

func dependenciesPlaced(step *models.PipelineStep, placed map[string]bool) bool {
	for _, dep := range step.Dependencies {
		if !placed[dep] {
			return false
		}
	}

	return true
}

// Batches splits an execution order into groups that may run concurrently.
// Only parallelizable steps share a batch, a batch never holds a step together
// with one of its dependencies, and no batch exceeds maxParallel steps.
func Batches(order []*models.PipelineStep, maxParallel int) [][]*models.PipelineStep {
	if maxParallel < 1 {
		maxParallel = 1
	}

	batches := make([][]*models.PipelineStep, 0, len(order))
	current := make([]*models.PipelineStep, 0, maxParallel)
	inCurrent := make(map[string]bool)

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = make([]*models.PipelineStep, 0, maxParallel)
			inCurrent = make(map[string]bool)
		}
	}

	for _, step := range order {
		if !canJoin(step, current, inCurrent, maxParallel) {
			flush()
		}

		current = append(current, step)
		inCurrent[step.ID] = true

		if !step.Parallelizable {
			flush()
		}
	}

	flush()

	return batches
}

func canJoin(step *models.PipelineStep, current []*models.PipelineStep, inCurrent map[string]bool, maxParallel int) bool {
	if len(current) == 0 {
		return true
	}

	if !step.Parallelizable || len(current) >= maxParallel {
		return false
	}

	for _, dep := range step.Dependencies {
		if inCurrent[dep] {
			return false
		}
	}

	return true
}

// FindCycle reports one dependency cycle as the list of step ids along it,
// or nil when the graph is acyclic. Dependencies on unknown steps are ignored.
func FindCycle(steps []*models.PipelineStep) ([]string, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for _, step := range steps {
		err := g.AddVertex(step.ID)
		if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("failed to add step %s: %w", step.ID, err)
		}
	}

	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return []string{step.ID, step.ID}, nil
			}

			err := g.AddEdge(dep, step.ID)

			switch {
			case err == nil,
				errors.Is(err, graph.ErrVertexNotFound),
				errors.Is(err, graph.ErrEdgeAlreadyExists):
				continue
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				path, pathErr := graph.ShortestPath(g, step.ID, dep)
				if pathErr != nil {
					return []string{dep, step.ID, dep}, nil
				}

				return append(path, step.ID), nil
			default:
				return nil, fmt.Errorf("failed to add dependency %s -> %s: %w", dep, step.ID, err)
			}
		}
	}

	return nil, nil
}
