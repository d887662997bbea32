package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/merchantiq/matchd/internal/workflows"

var (
	activityDuration metric.Float64Histogram
	activityErrors   metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflow activities.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	activityDuration, err = meter.Float64Histogram(
		"matchd.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration histogram: %v", err))
	}

	activityErrors, err = meter.Int64Counter(
		"matchd.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}

// observe records one activity execution.
func observe(ctx context.Context, activity string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", activity))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrors.Add(ctx, 1, attrs)
	}
}
