package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quiverfi/quiver/pkg/engine"
)

// SetError records err on the span and marks its status as failed. The
// transient flag distinguishes retryable infrastructure faults from
// business refusals when reading traces.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		append(attrs, attribute.Bool("transient", engine.IsTransient(err)))...,
	))
}
