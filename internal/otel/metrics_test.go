package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetricsAndRecorders(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if handler == nil {
		t.Fatal("expected /metrics handler")
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}

	RecordCycle(ctx)
	RecordCycleStep(ctx, "ingest", 120*time.Millisecond)
	RecordDispatch(ctx, "webapp", "webapp", "success", 2*time.Second)
	RecordExtractionFailure(ctx, "webapp")
	RecordMention(ctx, "tech-lead")
	RecordReviewTransition(ctx, "webapp", "ready_to_merge")
}

func TestRecordersAreNoopsBeforeInit(t *testing.T) {
	// Instruments may be nil when InitMetrics was never called; recording
	// must not panic.
	ctx := context.Background()
	RecordCycle(ctx)
	RecordDispatch(ctx, "webapp", "webapp", "failure", time.Second)
}
