// Package diagnostics tracks backend connectivity. One Checker is created at
// startup, run once with retries, and re-run on demand.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/observability"
)

// Status is the connectivity state shown to the operator.
type Status string

// Connectivity states.
const (
	StatusChecking     Status = "checking"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

const (
	defaultMaxElapsed      = 30 * time.Second
	defaultInitialInterval = 500 * time.Millisecond
	maxInterval            = 5 * time.Second
)

// Details is the backend configuration reported by /health.
type Details struct {
	Env             string `json:"env,omitempty"`
	DefaultExchange string `json:"defaultExchange,omitempty"`
}

// State is the latest diagnostics outcome.
type State struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Details   *Details  `json:"details,omitempty"`
	Attempts  int       `json:"attempts"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
}

// Checker owns the connectivity state.
type Checker struct {
	client     backend.Requester
	maxElapsed time.Duration
	initial    time.Duration
	onChange   func(State)
	clock      func() time.Time

	mu    sync.Mutex
	state State
}

// Option configures a Checker.
type Option func(*Checker)

// WithMaxElapsed bounds the retry window of Run.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.maxElapsed = d
		}
	}
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.initial = d
		}
	}
}

// WithOnChange registers a hook receiving every state update.
func WithOnChange(fn func(State)) Option {
	return func(c *Checker) { c.onChange = fn }
}

// NewChecker constructs a checker in the checking state.
func NewChecker(client backend.Requester, opts ...Option) *Checker {
	c := &Checker{
		client:     client,
		maxElapsed: defaultMaxElapsed,
		initial:    defaultInitialInterval,
		clock:      time.Now,
		state:      State{Status: StatusChecking, Message: "Checking backend connection..."},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State returns the latest state.
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run checks /health, retrying transport failures with exponential backoff
// until the backend answers or the retry window closes. A backend that
// answers with an error is not retried.
func (c *Checker) Run(ctx context.Context) State {
	c.begin()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxInterval = maxInterval

	attempts := 0
	details, err := backoff.Retry(ctx, func() (Details, error) {
		attempts++
		details, err := c.probe(ctx)
		if err != nil && !errs.Is(err, errs.CodeTransport) {
			return details, backoff.Permanent(err)
		}
		return details, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			observability.Log().Info("backend not reachable yet",
				observability.F("error", errs.Message(err)),
				observability.F("retry_in", wait.String()),
			)
		}),
	)
	return c.finish(details, err, attempts)
}

// Recheck performs a single check without retries.
func (c *Checker) Recheck(ctx context.Context) State {
	c.begin()
	details, err := c.probe(ctx)
	return c.finish(details, err, 1)
}

func (c *Checker) probe(ctx context.Context) (Details, error) {
	res := c.client.Get(ctx, "/health")
	if err := res.AsError("diagnostics/health"); err != nil {
		return Details{}, err
	}
	var reply struct {
		Config Details `json:"config"`
	}
	if err := res.Decode(&reply); err != nil {
		return Details{}, err
	}
	return reply.Config, nil
}

func (c *Checker) begin() {
	c.mu.Lock()
	c.state = State{Status: StatusChecking, Message: "Checking backend connection...", Details: c.state.Details}
	snap := c.state
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Checker) finish(details Details, err error, attempts int) State {
	next := State{Attempts: attempts, CheckedAt: c.clock()}
	if err != nil {
		next.Status = StatusDisconnected
		next.Message = "Backend unreachable: " + errs.Message(err)
		observability.Log().Error("backend diagnostics failed",
			observability.F("error", errs.Message(err)),
			observability.F("attempts", attempts),
		)
	} else {
		next.Status = StatusConnected
		next.Message = "Connected to backend"
		if details.Env != "" {
			next.Message += " (" + details.Env + ")"
		}
		d := details
		next.Details = &d
		observability.Log().Info("backend connected",
			observability.F("env", details.Env),
			observability.F("default_exchange", details.DefaultExchange),
		)
	}
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
	c.notify(next)
	return next
}

func (c *Checker) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
