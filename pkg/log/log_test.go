package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(t.Context()))

	logger := WithModule("executor")
	ctx := WithLogger(t.Context(), logger)

	assert.Same(t, logger, FromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		value   string
		want    slog.Level
		wantErr bool
	}{
		{value: "", want: slog.LevelInfo},
		{value: "debug", want: slog.LevelDebug},
		{value: "WARN", want: slog.LevelWarn},
		{value: "error", want: slog.LevelError},
		{value: "info+2", want: slog.LevelInfo + 2},
		{value: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseLevel(tt.value)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer

	handler, err := NewHandler(&buf, "warn", FormatJSON)
	require.NoError(t, err)

	logger := WithRun(slog.New(handler), "pipe-1", "run-1")
	logger.Info("dropped")
	logger.Warn("step slow")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "step slow", record["msg"])
	assert.Equal(t, "pipe-1", record["pipeline_id"])
	assert.Equal(t, "run-1", record["run_id"])
}

func TestNewHandler_Errors(t *testing.T) {
	_, err := NewHandler(&bytes.Buffer{}, "info", "xml")
	require.ErrorContains(t, err, "unsupported log format")

	_, err = NewHandler(&bytes.Buffer{}, "loud", FormatText)
	require.ErrorContains(t, err, "invalid log level")
}
