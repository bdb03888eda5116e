package otelhelper

import (
	"errors"

	"github.com/kbforge/kbforge/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed and records err as an exception event
// carrying attrs. A nil err is ignored.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetRunStatus records the final status of a run or step on span.
// Failed and timed out spans get an error status with message; cancelled
// spans only get an event, they did nothing wrong.
func SetRunStatus(span trace.Span, status models.RunStatus, message string, attrs ...attribute.KeyValue) {
	span.SetAttributes(attribute.String(StatusKey, string(status)))

	switch status {
	case models.RunStatusCompleted:
		span.SetStatus(codes.Ok, "")
	case models.RunStatusFailed, models.RunStatusTimeout:
		if message == "" {
			message = string(status)
		}

		SetError(span, errors.New(message), attrs...)
	case models.RunStatusCancelled:
		span.AddEvent("cancelled", trace.WithAttributes(attrs...))
	case models.RunStatusPending, models.RunStatusRunning:
	}
}
