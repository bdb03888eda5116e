// Package scheduler starts pipeline runs from enabled scheduled triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kbforge/kbforge/pkg/eventbus"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/robfig/cron/v3"
)

var ErrMissingCronExpression = errors.New("scheduled trigger cron expression is required")

// Runner is the part of the pipeline service the scheduler drives.
type Runner interface {
	ListPipelines(ctx context.Context) ([]*models.Pipeline, error)
	ExecutePipeline(ctx context.Context, id string, params map[string]any, trigger models.RunTrigger) (*models.PipelineRun, error)
}

type entry struct {
	pipelineID string
	expr       string
	id         cron.EntryID
}

// Scheduler keeps one cron entry per (pipeline, expression) pair of every
// active pipeline.
type Scheduler struct {
	runner Runner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
	ctx     context.Context
}

func New(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		logger:  logger.With("module", "scheduler"),
		entries: make(map[string]entry),
		ctx:     context.Background(),
	}
}

// CronExpression returns the expression of a scheduled trigger.
func CronExpression(trigger *models.PipelineTrigger) (string, error) {
	expr, _ := trigger.Config["cron"].(string)
	if expr == "" {
		return "", ErrMissingCronExpression
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("invalid cron expression: %w", err)
	}

	return expr, nil
}

// Start runs the cron loop. Runs fired by the scheduler use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started")

	return nil
}

// Stop halts the cron loop and waits for jobs that are still firing.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync adds entries for new scheduled triggers and removes entries whose
// pipeline is gone, inactive or no longer declares the expression.
func (s *Scheduler) Sync(ctx context.Context) error {
	pipelines, err := s.runner.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}

	wanted := make(map[string]entry)

	for _, pipeline := range pipelines {
		if pipeline.Status != models.PipelineStatusActive {
			continue
		}

		for _, trigger := range pipeline.Spec.Triggers {
			if trigger == nil || !trigger.Enabled || trigger.Type != models.TriggerTypeScheduled {
				continue
			}

			expr, err := CronExpression(trigger)
			if err != nil {
				s.logger.WarnContext(ctx, "Skipping scheduled trigger", "pipeline_id", pipeline.ID, "error", err)

				continue
			}

			wanted[pipeline.ID+"|"+expr] = entry{pipelineID: pipeline.ID, expr: expr}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, current := range s.entries {
		if _, ok := wanted[key]; !ok {
			s.cron.Remove(current.id)
			delete(s.entries, key)
			s.logger.InfoContext(ctx, "Removed schedule", "pipeline_id", current.pipelineID, "cron", current.expr)
		}
	}

	for key, next := range wanted {
		if _, ok := s.entries[key]; ok {
			continue
		}

		id, err := s.cron.AddFunc(next.expr, s.fire(next.pipelineID, next.expr))
		if err != nil {
			return fmt.Errorf("failed to add cron job for pipeline %s: %w", next.pipelineID, err)
		}

		next.id = id
		s.entries[key] = next
		s.logger.InfoContext(ctx, "Added schedule", "pipeline_id", next.pipelineID, "cron", next.expr)
	}

	return nil
}

// Entries returns the number of scheduled (pipeline, expression) pairs.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Scheduler) fire(pipelineID, expr string) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		run, err := s.runner.ExecutePipeline(ctx, pipelineID, nil, models.NewTrigger(models.TriggerTypeScheduled, "cron:"+expr))
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled run rejected", "pipeline_id", pipelineID, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Scheduled run started", "pipeline_id", pipelineID, "run_id", run.ID)
	}
}

// Subscribe resyncs the schedule whenever a pipeline definition changes.
func (s *Scheduler) Subscribe(bus eventbus.EventSubscriber) error {
	resync := func(ctx context.Context, _ any) error {
		return s.Sync(ctx)
	}

	for _, eventType := range []events.EventType{
		events.PipelineCreatedEvent,
		events.PipelineUpdatedEvent,
		events.PipelineDeletedEvent,
	} {
		if err := bus.Handle(eventType, resync); err != nil {
			return err
		}
	}

	return nil
}
