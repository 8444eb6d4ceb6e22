package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("voicecreation-codegen")

// GenerationMetrics provides metrics collection for code generation runs
type GenerationMetrics struct {
	runsStartedCounter    metric.Int64Counter
	runsCompletedCounter  metric.Int64Counter
	runsFailedCounter     metric.Int64Counter
	runsCancelledCounter  metric.Int64Counter
	runDurationHistogram  metric.Float64Histogram
	filesWrittenHistogram metric.Int64Histogram
	runsActiveGauge       metric.Int64UpDownCounter
}

// NewGenerationMetrics creates a new generation metrics collector
func NewGenerationMetrics() (*GenerationMetrics, error) {
	runsStartedCounter, err := meter.Int64Counter(
		"voicecreation.codegen.runs.started",
		metric.WithDescription("Total number of generation runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsCompletedCounter, err := meter.Int64Counter(
		"voicecreation.codegen.runs.completed",
		metric.WithDescription("Total number of generation runs that reached a live preview"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsFailedCounter, err := meter.Int64Counter(
		"voicecreation.codegen.runs.failed",
		metric.WithDescription("Total number of generation runs that failed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsCancelledCounter, err := meter.Int64Counter(
		"voicecreation.codegen.runs.cancelled",
		metric.WithDescription("Total number of generation runs cancelled by the session"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationHistogram, err := meter.Float64Histogram(
		"voicecreation.codegen.run.duration",
		metric.WithDescription("Duration of generation runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	filesWrittenHistogram, err := meter.Int64Histogram(
		"voicecreation.codegen.files.written",
		metric.WithDescription("Number of files materialized per run"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	runsActiveGauge, err := meter.Int64UpDownCounter(
		"voicecreation.codegen.runs.active",
		metric.WithDescription("Number of currently active generation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		runsStartedCounter:    runsStartedCounter,
		runsCompletedCounter:  runsCompletedCounter,
		runsFailedCounter:     runsFailedCounter,
		runsCancelledCounter:  runsCancelledCounter,
		runDurationHistogram:  runDurationHistogram,
		filesWrittenHistogram: filesWrittenHistogram,
		runsActiveGauge:       runsActiveGauge,
	}, nil
}

// RecordRunStarted records a new generation run
func (gm *GenerationMetrics) RecordRunStarted(ctx context.Context, provider string) {
	attrs := metric.WithAttributes(attribute.String("model.provider", provider))
	gm.runsStartedCounter.Add(ctx, 1, attrs)
	gm.runsActiveGauge.Add(ctx, 1, attrs)
}

// RecordFilesWritten records how many files a run materialized
func (gm *GenerationMetrics) RecordFilesWritten(ctx context.Context, provider, strategy string, count int) {
	gm.filesWrittenHistogram.Record(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.String("parse.strategy", strategy),
		),
	)
}

// RecordRunCompleted records a run that reached a live preview
func (gm *GenerationMetrics) RecordRunCompleted(ctx context.Context, provider string, duration time.Duration) {
	gm.runsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.String("status", "completed"),
		),
	)
	gm.finish(ctx, provider, "completed", duration)
}

// RecordRunFailed records a failed run with its error code
func (gm *GenerationMetrics) RecordRunFailed(ctx context.Context, provider, errorCode string, duration time.Duration) {
	gm.runsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.String("status", "failed"),
			attribute.String("error.code", errorCode),
		),
	)
	gm.finish(ctx, provider, "failed", duration)
}

// RecordRunCancelled records a run stopped before completion
func (gm *GenerationMetrics) RecordRunCancelled(ctx context.Context, provider string, duration time.Duration) {
	gm.runsCancelledCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.String("status", "cancelled"),
		),
	)
	gm.finish(ctx, provider, "cancelled", duration)
}

func (gm *GenerationMetrics) finish(ctx context.Context, provider, status string, duration time.Duration) {
	gm.runDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.String("status", status),
		),
	)
	gm.runsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("model.provider", provider)),
	)
}
