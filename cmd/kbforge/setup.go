package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kbforge/kbforge/pkg/cmd"
	"github.com/kbforge/kbforge/pkg/eventbus"
	"github.com/kbforge/kbforge/pkg/executor"
	"github.com/kbforge/kbforge/pkg/log"
	"github.com/kbforge/kbforge/pkg/modelregistry"
	"github.com/kbforge/kbforge/pkg/otelhelper"
	"github.com/kbforge/kbforge/pkg/registry"
	"github.com/kbforge/kbforge/pkg/search"
	"github.com/kbforge/kbforge/pkg/services"
	"github.com/kbforge/kbforge/pkg/storage"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort        = 9091
	defaultDatabaseURL = "file://./data/records"
	defaultDataDir     = "./data/blobs"
	defaultModelsDir   = "./models"
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Record store URL (file://, postgres://, sqlite://)",
			Value:   defaultDatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   log.FormatText,
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "Root directory of the blob store",
			Value:   defaultDataDir,
			Sources: cli.EnvVars("DATA_DIR"),
		},
		&cli.IntFlag{
			Name:    "storage-quota-mb",
			Usage:   "Blob store quota in megabytes, 0 for unlimited",
			Sources: cli.EnvVars("STORAGE_QUOTA_MB"),
		},
		&cli.StringFlag{
			Name:    "models-dir",
			Usage:   "Directory holding downloaded models",
			Value:   defaultModelsDir,
			Sources: cli.EnvVars("MODELS_DIR"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the step cache, process memory when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "How long cached step outputs stay valid",
			Value:   time.Hour,
			Sources: cli.EnvVars("CACHE_TTL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers for the kafka event bus",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.FloatFlag{
			Name:    "otel-sample-ratio",
			Usage:   "Fraction of runs traced when --otel is set",
			Value:   1,
			Sources: cli.EnvVars("OTEL_SAMPLE_RATIO"),
		},
		&cli.IntFlag{
			Name:    "max-runs-per-pipeline",
			Usage:   "Concurrent runs allowed per pipeline, 0 for unlimited",
			Sources: cli.EnvVars("MAX_RUNS_PER_PIPELINE"),
		},
	}
}

// engine is every long-lived component a command needs.
type engine struct {
	logger   *slog.Logger
	service  *services.Pipeline
	registry *registry.Registry
	eventBus eventbus.EventBus
	closers  []func(context.Context) error
}

func newEngine(ctx context.Context, command *cli.Command, module string) (*engine, error) {
	if err := log.Setup(command.String("log-level"), command.String("log-format")); err != nil {
		return nil, err
	}

	e := &engine{logger: log.WithModule(module)}

	store, err := cmd.NewPersistence(ctx, e.logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	e.closers = append(e.closers, store.Close)

	blobs, err := storage.NewLocal(e.logger, command.String("data-dir"), int64(command.Int("storage-quota-mb"))<<20)
	if err != nil {
		return nil, e.fail(ctx, err)
	}

	stepCache, err := cmd.NewCache(ctx, command.String("redis-url"))
	if err != nil {
		return nil, e.fail(ctx, err)
	}

	e.closers = append(e.closers, func(context.Context) error { return stepCache.Close() })

	e.eventBus, err = cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), e.logger)
	if err != nil {
		return nil, e.fail(ctx, err)
	}

	e.closers = append(e.closers, func(context.Context) error { return e.eventBus.Close() })

	execOpts := []executor.Option{
		executor.WithCache(stepCache, command.Duration("cache-ttl")),
		executor.WithPublisher(e.eventBus),
	}

	if command.Bool("otel") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, otelhelper.Config{
			ServiceName:    "kbforge",
			ServiceVersion: version,
			SampleRatio:    command.Float("otel-sample-ratio"),
		})
		if err != nil {
			return nil, e.fail(ctx, err)
		}

		e.closers = append(e.closers, shutdown)
		execOpts = append(execOpts, executor.WithTracer(tracer))
	}

	models := modelregistry.NewLocal(e.logger, command.String("models-dir"))

	e.registry = cmd.NewRegistry(e.logger, cmd.StepDependencies{
		Blobs:  blobs,
		Models: models,
		Search: search.NewMemory(),
	})

	e.service = services.NewPipeline(
		store,
		executor.New(e.registry, e.logger, execOpts...),
		e.logger,
		services.WithStepValidator(e.registry),
		services.WithModelRegistry(models),
		services.WithPublisher(e.eventBus),
		services.WithMaxRunsPerPipeline(command.Int("max-runs-per-pipeline")),
	)

	e.closers = append(e.closers, e.service.Close)

	if err := e.service.Warm(ctx); err != nil {
		return nil, e.fail(ctx, err)
	}

	return e, nil
}

func (e *engine) fail(ctx context.Context, err error) error {
	return errors.Join(err, e.Close(ctx))
}

// Close releases components in reverse construction order.
func (e *engine) Close(ctx context.Context) error {
	var errs []error

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	e.closers = nil

	return errors.Join(errs...)
}
