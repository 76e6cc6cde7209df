package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	cyclesCounter      metric.Int64Counter
	cycleStepDuration  metric.Float64Histogram
	dispatchCounter    metric.Int64Counter
	dispatchDuration   metric.Float64Histogram
	extractionFailures metric.Int64Counter
	mentionsCounter    metric.Int64Counter
	reviewTransitions  metric.Int64Counter
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		cyclesCounter, err = m.Int64Counter("dulien_cycles_total", metric.WithDescription("Total orchestration cycles run"))
		if err != nil {
			return
		}
		cycleStepDuration, err = m.Float64Histogram("dulien_cycle_step_duration_seconds", metric.WithDescription("Duration of each cycle step in seconds"))
		if err != nil {
			return
		}
		dispatchCounter, err = m.Int64Counter("dulien_dispatches_total", metric.WithDescription("Total task dispatches by role and outcome"))
		if err != nil {
			return
		}
		dispatchDuration, err = m.Float64Histogram("dulien_dispatch_duration_seconds", metric.WithDescription("Agent dispatch duration in seconds"))
		if err != nil {
			return
		}
		extractionFailures, err = m.Int64Counter("dulien_extraction_failures_total", metric.WithDescription("Agent outputs that failed extraction or validation"))
		if err != nil {
			return
		}
		mentionsCounter, err = m.Int64Counter("dulien_mentions_routed_total", metric.WithDescription("Mentions routed by role"))
		if err != nil {
			return
		}
		reviewTransitions, err = m.Int64Counter("dulien_review_transitions_total", metric.WithDescription("Review state transitions by target status"))
	})
	return err
}

// RecordCycle records one completed orchestration cycle.
func RecordCycle(ctx context.Context) {
	if cyclesCounter != nil {
		cyclesCounter.Add(ctx, 1)
	}
}

// RecordCycleStep records the duration of one cycle step.
func RecordCycleStep(ctx context.Context, step string, duration time.Duration) {
	if cycleStepDuration != nil {
		cycleStepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrStep.String(step)))
	}
}

// RecordDispatch records one task dispatch and its duration.
func RecordDispatch(ctx context.Context, repo, role, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(AttrRepo.String(repo), AttrRole.String(role), attribute.String("outcome", outcome))
	if dispatchCounter != nil {
		dispatchCounter.Add(ctx, 1, attrs)
	}
	if dispatchDuration != nil {
		dispatchDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordExtractionFailure records one unextractable or invalid agent output.
func RecordExtractionFailure(ctx context.Context, repo string) {
	if extractionFailures != nil {
		extractionFailures.Add(ctx, 1, metric.WithAttributes(AttrRepo.String(repo)))
	}
}

// RecordMention records one routed mention.
func RecordMention(ctx context.Context, role string) {
	if mentionsCounter != nil {
		mentionsCounter.Add(ctx, 1, metric.WithAttributes(AttrRole.String(role)))
	}
}

// RecordReviewTransition records a review-state transition.
func RecordReviewTransition(ctx context.Context, repo, status string) {
	if reviewTransitions != nil {
		reviewTransitions.Add(ctx, 1, metric.WithAttributes(AttrRepo.String(repo), AttrStatus.String(status)))
	}
}
