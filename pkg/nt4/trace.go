package nt4

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this library to the global tracer provider.
const tracerName = "nt4go"

// newTracer resolves the tracer when tracing is enabled. Configure the
// global provider in main() before constructing the client:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func newTracer(enabled bool) trace.Tracer {
	if !enabled {
		return nil
	}
	return otel.Tracer(tracerName)
}

// startSpan opens a span when tracing is enabled; the returned end function
// records err on the span. Both are no-ops with tracing disabled.
func (c *Client) startSpan(name string, attrs ...attribute.KeyValue) func(err error) {
	if c.tracer == nil {
		return func(error) {}
	}
	_, span := c.tracer.Start(
		context.Background(),
		name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
