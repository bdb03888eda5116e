// Package main provides the kbforge command: the API server and one-shot pipeline tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	command := &cli.Command{
		Name:                  "kbforge",
		Version:               version,
		Usage:                 "Build knowledge bases with declarative pipelines",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Load environment variables from this file before reading flags",
				Sources: cli.EnvVars("ENV_FILE"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			if path := command.String("env-file"); path != "" {
				if err := godotenv.Load(path); err != nil {
					return ctx, fmt.Errorf("failed to load %s: %w", path, err)
				}
			}

			return ctx, nil
		},
		Commands: []*cli.Command{
			ServeCommand(),
			RunCommand(),
			TemplatesCommand(),
			ValidateCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
