// Package dispatcher sends one-shot quick actions and arsenal actions to the
// backend. Actions are not idempotent, so a failure is reported once and
// never retried.
package dispatcher

import (
	"context"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/config"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
	"github.com/coachpo/stratdeck/internal/observability"
)

const defaultPercentage = "1.0"

// Outcome describes a successful quick action.
type Outcome struct {
	Kind     Kind            `json:"kind"`
	Endpoint string          `json:"endpoint"`
	ID       string          `json:"id,omitempty"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Dispatcher validates and sends actions.
type Dispatcher struct {
	client   backend.Requester
	defaults func() config.Defaults
	metrics  *telemetry.Metrics
	refresh  []func()

	mu      sync.Mutex
	arsenal []ActionDefinition
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaults supplies the form defaults used by Seed.
func WithDefaults(source func() config.Defaults) Option {
	return func(d *Dispatcher) {
		if source != nil {
			d.defaults = source
		}
	}
}

// WithMetrics records dispatch outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRefresh registers hooks invoked after every successful quick action so
// that owners of polled views can fetch a fresh snapshot.
func WithRefresh(hooks ...func()) Option {
	return func(d *Dispatcher) {
		for _, h := range hooks {
			if h != nil {
				d.refresh = append(d.refresh, h)
			}
		}
	}
}

// New constructs a Dispatcher.
func New(client backend.Requester, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:   client,
		defaults: config.DefaultDefaults,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Seed returns the initial form values for kind: initial values win, blank
// fields fall back to the configured defaults.
func (d *Dispatcher) Seed(kind Kind, initial Params) (Route, Params, error) {
	route, ok := Lookup(kind)
	if !ok {
		return Route{}, nil, errs.Validation("dispatcher/seed", "unknown quick action "+string(kind))
	}
	defaults := d.defaults()
	seed := Params{
		"symbol": defaults.Symbol,
		"size":   defaults.QuickSize,
	}
	switch {
	case route.PercentField != "":
		seed[percentageParam] = defaultPercentage
		seed["entryPrice"] = ""
		seed["positionSide"] = "long"
	case route.Side == "sell":
		seed["positionSide"] = "short"
	default:
		seed["positionSide"] = "long"
	}
	for k, v := range initial {
		if strings.TrimSpace(v) != "" {
			seed[k] = v
		}
	}
	return route, seed, nil
}

// Dispatch validates params, sends the quick action once and reports the
// backend's message verbatim on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, params Params) (Outcome, error) {
	req, err := Build(kind, params)
	if err != nil {
		d.metrics.RecordDispatch(ctx, string(kind), err)
		return Outcome{}, err
	}

	observability.Log().Info("dispatching quick action",
		observability.F("kind", string(req.Kind)),
		observability.F("endpoint", req.Endpoint),
	)
	res := d.client.Post(ctx, req.Endpoint, req.Payload)
	if failure := res.AsError("dispatcher/" + string(req.Kind)); failure != nil {
		d.metrics.RecordDispatch(ctx, string(req.Kind), failure)
		return Outcome{}, failure
	}
	d.metrics.RecordDispatch(ctx, string(req.Kind), nil)

	var ack struct {
		ID any `json:"id"`
	}
	_ = res.Decode(&ack)
	id := idText(ack.ID)
	message := "Done"
	if id != "" {
		message = id
	}

	for _, hook := range d.refresh {
		hook()
	}
	return Outcome{
		Kind:     req.Kind,
		Endpoint: req.Endpoint,
		ID:       id,
		Message:  "Action Successful! ID: " + message,
		Response: res.Body,
	}, nil
}

func idText(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
