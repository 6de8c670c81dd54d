package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	PostsPublished      metric.Int64Counter
	PostsFailed         metric.Int64Counter
	PostsGenerated      metric.Int64Counter
	PublishDuration     metric.Float64Histogram
	TokenRefreshes      metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics registers the instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("content-autoposter")

	published, err := meter.Int64Counter(
		"posts.published.total",
		metric.WithDescription("Queue entries published"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"posts.failed.total",
		metric.WithDescription("Failed publish attempts"),
	)
	if err != nil {
		return nil, err
	}

	generated, err := meter.Int64Counter(
		"posts.generated.total",
		metric.WithDescription("Queue entries generated"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"posts.publish.duration",
		metric.WithDescription("Duration of a single publish call in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	refreshes, err := meter.Int64Counter(
		"auth.token.refreshes",
		metric.WithDescription("Forced token refreshes after a 401"),
	)
	if err != nil {
		return nil, err
	}

	breaker, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		PostsPublished:      published,
		PostsFailed:         failed,
		PostsGenerated:      generated,
		PublishDuration:     duration,
		TokenRefreshes:      refreshes,
		CircuitBreakerState: breaker,
	}, nil
}

// RecordPublish records the outcome of one publish attempt.
func (m *Metrics) RecordPublish(ctx context.Context, platform string, success bool, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.Bool("success", success),
	)
	if success {
		m.PostsPublished.Add(ctx, 1, attrs)
	} else {
		m.PostsFailed.Add(ctx, 1, attrs)
	}
	m.PublishDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordGenerated(ctx context.Context, model string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PostsGenerated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("gemini.model", model)))
}

func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
