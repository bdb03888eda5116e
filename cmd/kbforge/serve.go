package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbforge/kbforge/pkg/log"
	"github.com/kbforge/kbforge/pkg/scheduler"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API server and the trigger scheduler",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEngine(ctx, command, "api")
			if err != nil {
				return err
			}

			e.logger.InfoContext(ctx, "Initializing KBForge API")

			sched := scheduler.New(e.service, e.logger)

			if err := sched.Subscribe(e.eventBus); err != nil {
				return e.fail(ctx, err)
			}

			if err := e.eventBus.Subscribe(log.WithLogger(ctx, e.logger.With("component", "event_bus"))); err != nil {
				return e.fail(ctx, err)
			}

			if err := sched.Start(ctx); err != nil {
				return e.fail(ctx, err)
			}

			api := NewAPI(e.logger, e.service, e.registry)
			app := api.App()

			go func() {
				<-ctx.Done()

				e.logger.Info("Shutting down KBForge API")

				if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
					e.logger.Error("Failed to shut down API server", "error", err)
				}
			}()

			serveErr := api.Start(app, command.Int("port"))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := sched.Stop(shutdownCtx); err != nil {
				e.logger.Error("Failed to stop scheduler", "error", err)
			}

			if err := e.Close(shutdownCtx); err != nil {
				e.logger.Error("Failed to close engine", "error", err)
			}

			return serveErr
		},
	}
}
