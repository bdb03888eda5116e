// Package log configures the process logger and carries loggers through contexts.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel accepts slog level names in any case, with an optional offset
// such as "warn+2". An empty string means info.
func ParseLevel(value string) (slog.Level, error) {
	var level slog.Level

	if value == "" {
		return slog.LevelInfo, nil
	}

	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

// NewHandler builds a text or JSON handler writing to w.
func NewHandler(w io.Writer, level, format string) (slog.Handler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", FormatText:
		return slog.NewTextHandler(w, opts), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// Setup installs a stderr handler as the slog default.
func Setup(level, format string) error {
	handler, err := NewHandler(os.Stderr, level, format)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(handler))

	return nil
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// WithRun tags logger with the pipeline and run it is working for.
func WithRun(logger *slog.Logger, pipelineID, runID string) *slog.Logger {
	return logger.With("pipeline_id", pipelineID, "run_id", runID)
}
