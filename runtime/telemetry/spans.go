package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on engine spans.
const (
	AttrTask      = "mat.task"
	AttrWorkflow  = "mat.workflow"
	AttrStep      = "mat.step"
	AttrSteps     = "mat.steps"
	AttrOperation = "mat.backend.operation"
	AttrUndone    = "mat.steps_undone"
)

// StartBackendSpan opens a client span for one backend operation.
func StartBackendSpan(
	ctx context.Context, tracer trace.Tracer, operation, task, workflow string, steps []string,
) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer(nil)
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		attribute.String(AttrTask, task),
	}
	if workflow != "" {
		attrs = append(attrs, attribute.String(AttrWorkflow, workflow))
	}
	if len(steps) > 0 {
		attrs = append(attrs, attribute.String(AttrSteps, strings.Join(steps, ",")))
	}
	return tracer.Start(ctx, "mat.backend."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// StartStepSpan opens an internal span covering a workflow step transition.
func StartStepSpan(ctx context.Context, tracer trace.Tracer, name, task, step string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer(nil)
	}
	return tracer.Start(ctx, "mat.workflow."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrTask, task),
			attribute.String(AttrStep, step),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
