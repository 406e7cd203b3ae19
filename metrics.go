package qrate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName is the OTel scope name for queue metrics and spans.
const instrumentationName = "github.com/glynnbird/qrate"

// instruments holds the queue's OTel instruments. Without a configured
// MeterProvider/TracerProvider the global noop implementations are used.
//
// Instruments:
//   - qrate.tasks.dispatched (Int64Counter)
//   - qrate.tasks.completed (Int64Counter), attribute status ("ok" or "error")
//   - qrate.tasks.running (Int64UpDownCounter)
//   - qrate.task.duration (Float64Histogram, seconds), attribute status
type instruments struct {
	tracer trace.Tracer
	attrs  attribute.Set

	dispatched metric.Int64Counter
	completed  metric.Int64Counter
	running    metric.Int64UpDownCounter
	duration   metric.Float64Histogram
}

func newInstruments(name string, meter metric.Meter, tracer trace.Tracer) *instruments {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	// On error the OTel API hands back noop instruments, so the errors are
	// safe to ignore.
	dispatched, _ := meter.Int64Counter(
		"qrate.tasks.dispatched",
		metric.WithDescription("Tasks handed to the worker"),
		metric.WithUnit("{task}"),
	)
	completed, _ := meter.Int64Counter(
		"qrate.tasks.completed",
		metric.WithDescription("Tasks whose completion callback fired"),
		metric.WithUnit("{task}"),
	)
	running, _ := meter.Int64UpDownCounter(
		"qrate.tasks.running",
		metric.WithDescription("Tasks currently in flight"),
		metric.WithUnit("{task}"),
	)
	duration, _ := meter.Float64Histogram(
		"qrate.task.duration",
		metric.WithDescription("Time from dispatch to completion in seconds"),
		metric.WithUnit("s"),
	)

	return &instruments{
		tracer:     tracer,
		attrs:      attribute.NewSet(attribute.String("queue", name)),
		dispatched: dispatched,
		completed:  completed,
		running:    running,
		duration:   duration,
	}
}

func (in *instruments) taskStarted(ctx context.Context, taskID uint64) (context.Context, trace.Span) {
	in.dispatched.Add(ctx, 1, metric.WithAttributeSet(in.attrs))
	in.running.Add(ctx, 1, metric.WithAttributeSet(in.attrs))

	queue, _ := in.attrs.Value("queue")
	return in.tracer.Start(ctx, "qrate.task",
		trace.WithAttributes(
			attribute.String("qrate.queue", queue.AsString()),
			attribute.Int64("qrate.task.id", int64(taskID)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (in *instruments) taskFinished(ctx context.Context, span trace.Span, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(append(in.attrs.ToSlice(), attribute.String("status", status))...)

	in.running.Add(ctx, -1, metric.WithAttributeSet(in.attrs))
	in.completed.Add(ctx, 1, attrs)
	in.duration.Record(ctx, elapsed.Seconds(), attrs)

	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
