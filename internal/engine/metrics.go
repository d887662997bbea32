package engine

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/merchantiq/matchd/internal/engine"

var (
	candidatesProcessed metric.Int64Counter
	candidateDuration   metric.Float64Histogram
	iterationsUsed      metric.Int64Histogram
	escalationsTotal    metric.Int64Counter
	decisionsTotal      metric.Int64Counter
	tiesResolved        metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for the engine.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	candidatesProcessed, err = meter.Int64Counter(
		"matchd.engine.candidates.processed",
		metric.WithDescription("Total number of candidate workflows run to a terminal state"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create candidates processed counter: %v", err))
	}

	candidateDuration, err = meter.Float64Histogram(
		"matchd.engine.candidate.duration",
		metric.WithDescription("Duration of one candidate workflow"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create candidate duration histogram: %v", err))
	}

	iterationsUsed, err = meter.Int64Histogram(
		"matchd.engine.candidate.iterations",
		metric.WithDescription("Refinement iterations consumed per candidate"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create iterations histogram: %v", err))
	}

	escalationsTotal, err = meter.Int64Counter(
		"matchd.engine.escalations",
		metric.WithDescription("Candidates escalated after exhausting the iteration budget"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create escalations counter: %v", err))
	}

	decisionsTotal, err = meter.Int64Counter(
		"matchd.engine.decisions",
		metric.WithDescription("Confirmation decisions produced"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create decisions counter: %v", err))
	}

	tiesResolved, err = meter.Int64Counter(
		"matchd.engine.ties.resolved",
		metric.WithDescription("Contested records resolved in the tie-resolution phase"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create ties resolved counter: %v", err))
	}
}

func init() {
	initMetrics()
}
