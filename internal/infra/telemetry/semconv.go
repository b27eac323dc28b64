// Package telemetry provides OpenTelemetry initialisation and the metric
// instruments recorded by stratdeck.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by stratdeck instruments.
const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrMethod is the HTTP method of a backend request.
	AttrMethod = attribute.Key("http.method")
	// AttrPath is the backend path template, without query string.
	AttrPath = attribute.Key("http.path")
	// AttrOutcome records success or the error category of an operation.
	AttrOutcome = attribute.Key("outcome")
	// AttrResource names a polled resource (strategies, tickers, positions, orchestration).
	AttrResource = attribute.Key("resource")
	// AttrActionKind names the quick action or arsenal action dispatched.
	AttrActionKind = attribute.Key("action.kind")
	// AttrStateFrom and AttrStateTo label a state machine transition.
	AttrStateFrom = attribute.Key("state.from")
	AttrStateTo   = attribute.Key("state.to")
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RequestAttributes returns attributes for backend request metrics.
func RequestAttributes(environment, method, path, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMethod.String(method),
		AttrPath.String(path),
		AttrOutcome.String(outcome),
	}
}

// PollAttributes returns attributes for poll result metrics.
func PollAttributes(environment, resource, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResource.String(resource),
		AttrOutcome.String(outcome),
	}
}

// DispatchAttributes returns attributes for action dispatch metrics.
func DispatchAttributes(environment, kind, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrActionKind.String(kind),
		AttrOutcome.String(outcome),
	}
}

// TransitionAttributes returns attributes for state transition metrics.
func TransitionAttributes(environment, from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrStateFrom.String(from),
		AttrStateTo.String(to),
	}
}
