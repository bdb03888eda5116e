package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/services"
	"github.com/urfave/cli/v3"
)

var (
	ErrPipelineArgument = errors.New("a pipeline id or --template is required")
	ErrInvalidParameter = errors.New("parameters must look like key=value")
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a pipeline once and print the finished run",
		ArgsUsage: "[pipeline-id]",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Run parameter as key=value, JSON values are decoded",
			},
			&cli.StringFlag{
				Name:  "template",
				Usage: "Create the pipeline from this template before running it",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Name of the pipeline created from --template",
				Value: "Knowledge base",
			},
		}, engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			params, err := parseParams(command.StringSlice("param"))
			if err != nil {
				return err
			}

			e, err := newEngine(ctx, command, "run")
			if err != nil {
				return err
			}

			defer func() {
				if err := e.Close(context.Background()); err != nil {
					e.logger.Error("Failed to close engine", "error", err)
				}
			}()

			pipelineID := command.Args().First()

			if tpl := command.String("template"); tpl != "" {
				pipeline, err := e.service.CreateFromTemplate(ctx, tpl, command.String("name"), params)
				if err != nil {
					return err
				}

				pipelineID = pipeline.ID
				e.logger.InfoContext(ctx, "Pipeline created from template", "pipeline_id", pipelineID, "template_id", tpl)
			}

			if pipelineID == "" {
				return ErrPipelineArgument
			}

			run, err := runToCompletion(ctx, e.service, pipelineID, params)
			if err != nil {
				return err
			}

			if err := printJSON(run); err != nil {
				return err
			}

			if run.Status != models.RunStatusCompleted {
				return fmt.Errorf("run %s finished %s", run.ID, run.Status)
			}

			return nil
		},
	}
}

// runToCompletion starts a manual run and blocks until the service settles it.
func runToCompletion(ctx context.Context, svc *services.Pipeline, pipelineID string, params map[string]any) (*models.PipelineRun, error) {
	run, err := svc.ExecutePipeline(ctx, pipelineID, params, models.NewManualTrigger("cli"))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})

	go func() {
		svc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if err := svc.CancelExecution(context.Background(), run.ID); err != nil && !services.IsConflictError(err) {
			return nil, err
		}

		<-done
	}

	return svc.GetRun(context.Background(), run.ID)
}

func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))

	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParameter, entry)
		}

		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}

	return params, nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
