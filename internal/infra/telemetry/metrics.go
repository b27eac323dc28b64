package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/coachpo/stratdeck"

// Metrics bundles the instruments recorded across the console. A nil *Metrics
// records nothing, so components can run without telemetry wiring.
type Metrics struct {
	environment     string
	requestDuration metric.Float64Histogram
	pollResults     metric.Int64Counter
	dispatches      metric.Int64Counter
	transitions     metric.Int64Counter
}

// NewMetrics registers every instrument on the supplied meter.
func NewMetrics(meter metric.Meter, environment string) (*Metrics, error) {
	requestDuration, err := meter.Float64Histogram(
		"backend.request.duration",
		metric.WithDescription("Backend request round-trip duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	pollResults, err := meter.Int64Counter(
		"poll.results",
		metric.WithDescription("Poll results applied per resource"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}
	dispatches, err := meter.Int64Counter(
		"action.dispatches",
		metric.WithDescription("Quick and arsenal actions dispatched"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter(
		"orchestration.transitions",
		metric.WithDescription("Orchestration state machine transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		environment:     environment,
		requestDuration: requestDuration,
		pollResults:     pollResults,
		dispatches:      dispatches,
		transitions:     transitions,
	}, nil
}

// NewMetricsFromProvider is a convenience around NewMetrics using the provider's meter.
func NewMetricsFromProvider(p *Provider) (*Metrics, error) {
	return NewMetrics(p.Meter(meterName), p.Environment())
}

// RecordRequest observes one backend round trip.
func (m *Metrics) RecordRequest(ctx context.Context, method, path string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	m.requestDuration.Record(ctx, ms, metric.WithAttributes(RequestAttributes(m.environment, method, path, outcome(err))...))
}

// RecordPoll counts one delivered poll result.
func (m *Metrics) RecordPoll(ctx context.Context, resource string, err error) {
	if m == nil {
		return
	}
	m.pollResults.Add(ctx, 1, metric.WithAttributes(PollAttributes(m.environment, resource, outcome(err))...))
}

// RecordDispatch counts one action dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(DispatchAttributes(m.environment, kind, outcome(err))...))
}

// RecordTransition counts one state machine transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(TransitionAttributes(m.environment, from, to)...))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
