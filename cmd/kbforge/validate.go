package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/urfave/cli/v3"
)

var ErrValidateArgument = errors.New("a pipeline id or --file is required")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a stored pipeline or a pipeline JSON file",
		ArgsUsage: "[pipeline-id]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Path to a pipeline definition in JSON",
			},
		}, engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			e, err := newEngine(ctx, command, "validate")
			if err != nil {
				return err
			}

			defer func() {
				if err := e.Close(context.Background()); err != nil {
					e.logger.Error("Failed to close engine", "error", err)
				}
			}()

			var result *models.ValidationResult

			switch {
			case command.String("file") != "":
				pipeline, err := readPipeline(command.String("file"))
				if err != nil {
					return err
				}

				result = e.service.ValidateSpec(ctx, pipeline)
			case command.Args().First() != "":
				result, err = e.service.ValidatePipeline(ctx, command.Args().First())
				if err != nil {
					return err
				}
			default:
				return ErrValidateArgument
			}

			if err := printJSON(result); err != nil {
				return err
			}

			if !result.IsValid {
				return models.NewValidationFailedError(result.Messages())
			}

			return nil
		},
	}
}

func readPipeline(path string) (*models.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var pipeline models.Pipeline
	if err := json.Unmarshal(data, &pipeline); err != nil {
		return nil, models.WrapError(models.ErrSerialization, "failed to decode "+path, err)
	}

	return &pipeline, nil
}
