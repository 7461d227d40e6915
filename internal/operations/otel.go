package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"catpipe/internal/infrastructure"
	"catpipe/pkg/contracts/domain"
)

// TracerName names the tracer used for pipeline spans
const TracerName = "catpipe.operations"

// OperationTracer wraps runs and steps in spans and feeds the pipeline
// metrics. A tracer without metrics only produces spans.
type OperationTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewOperationTracer creates a tracer on the global tracer provider
func NewOperationTracer(metrics *infrastructure.PipelineMetrics) *OperationTracer {
	return &OperationTracer{
		tracer:  otel.Tracer(TracerName),
		metrics: metrics,
	}
}

// TraceRun starts the span covering a whole run
func (t *OperationTracer) TraceRun(ctx context.Context, runID string, req domain.RunRequest) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.data_path", req.DataPath),
			attribute.String("run.model", string(req.Model)),
		),
	)

	if t.metrics != nil {
		t.metrics.ActiveRuns.Add(ctx, 1)
	}

	return ctx, span
}

// TraceStep starts the span of one step
func (t *OperationTracer) TraceStep(ctx context.Context, runID, stepID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.step."+stepID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.id", stepID),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// RecordStepCompletion ends a step span and records its metrics
func (t *OperationTracer) RecordStepCompletion(ctx context.Context, span trace.Span, stepID string, duration time.Duration, err error) {
	span.SetAttributes(attribute.Float64("step.duration_seconds", duration.Seconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	t.metrics.RecordStep(ctx, stepID, duration, err)
}

// RecordRunCompletion ends the run span and records the run metrics
func (t *OperationTracer) RecordRunCompletion(ctx context.Context, span trace.Span, report *domain.RunReport, duration time.Duration, err error) {
	span.SetAttributes(
		attribute.String("run.status", string(report.Status)),
		attribute.Float64("run.duration_seconds", duration.Seconds()),
		attribute.Int("run.artifacts", len(report.Artifacts)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if t.metrics == nil {
		return
	}
	t.metrics.ActiveRuns.Add(ctx, -1)
	t.metrics.RecordRun(ctx, duration, err)
	if len(report.Artifacts) > 0 {
		t.metrics.ArtifactsWritten.Add(ctx, int64(len(report.Artifacts)))
	}
	if len(report.Warnings) > 0 {
		t.metrics.EmptyDatasets.Add(ctx, int64(len(report.Warnings)),
			metric.WithAttributes(attribute.String("run.status", string(report.Status))))
	}
}

// RecordRows counts loaded dataset rows
func (t *OperationTracer) RecordRows(ctx context.Context, rows int) {
	if t.metrics == nil {
		return
	}
	t.metrics.RowsLoaded.Add(ctx, int64(rows))
}

// RecordPartition records the size of a split partition
func (t *OperationTracer) RecordPartition(ctx context.Context, partition string, rows int) {
	t.metrics.RecordPartition(ctx, partition, rows)
}

// RecordAccuracy records a model score
func (t *OperationTracer) RecordAccuracy(ctx context.Context, model, partition string, accuracy float64) {
	t.metrics.RecordAccuracy(ctx, model, partition, accuracy)
}
