// Package backend is the HTTP client for the strategy engine. Every request,
// successful or not, resolves to a Result; no method returns a Go error.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/telemetry"
	"github.com/coachpo/stratdeck/internal/observability"
)

// RequestIDHeader carries a per-request correlation identifier.
const RequestIDHeader = "X-Request-ID"

// Requester is the request surface consumed by the application layer.
type Requester interface {
	Get(ctx context.Context, path string) Result
	Post(ctx context.Context, path string, body any) Result
}

// Client issues JSON requests against the backend base URL.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	clock   func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit bounds the request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records request durations on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hc := new(http.Client)
	hc.Timeout = timeout
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    hc,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the normalised backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues GET path.
func (c *Client) Get(ctx context.Context, path string) Result {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues POST path with body encoded as JSON. A nil body is sent as {}.
func (c *Client) Post(ctx context.Context, path string, body any) Result {
	if body == nil {
		body = struct{}{}
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) Result {
	start := c.clock()
	res := c.roundTrip(ctx, method, path, body)
	res.Method = method
	res.Path = path

	route := path
	if idx := strings.IndexByte(route, '?'); idx >= 0 {
		route = route[:idx]
	}
	var failure error
	if !res.OK() {
		failure = res.AsError("backend/" + strings.ToLower(method))
		observability.Log().Error("backend request failed",
			observability.F("method", method),
			observability.F("path", route),
			observability.F("status", res.Status),
			observability.F("error", res.Err),
		)
	}
	c.metrics.RecordRequest(ctx, method, route, c.clock().Sub(start), failure)
	return res
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) Result {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportFailure(0, "rate limit wait: "+err.Error())
		}
	}

	var payload []byte
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return transportFailure(0, "encode request: "+err.Error())
		}
		payload = encoded
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return transportFailure(0, fmt.Sprintf("create request: %v", err))
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	fields := []observability.Field{
		observability.F("method", method),
		observability.F("path", path),
		observability.F("request_id", requestID),
	}
	if payload != nil {
		fields = append(fields, observability.F("body", string(payload)))
	}
	observability.Log().Debug("backend request", fields...)

	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(0, err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(resp.StatusCode, "read response: "+err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, ok := bodyError(raw)
		if !ok {
			msg = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
		}
		return Result{Status: resp.StatusCode, Body: raw, Err: msg, Code: errs.CodeBackend}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return transportFailure(resp.StatusCode, "malformed JSON response")
	}
	if msg, ok := bodyError(raw); ok {
		return Result{Status: resp.StatusCode, Body: raw, Err: msg, Code: errs.CodeBackend}
	}
	return Result{Status: resp.StatusCode, Body: raw}
}

func transportFailure(status int, msg string) Result {
	return Result{Status: status, Err: msg, Code: errs.CodeTransport}
}
