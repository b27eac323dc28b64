// Package errs provides structured error types and helpers for stratdeck.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeTransport indicates the backend was unreachable or replied with a malformed body.
	CodeTransport Code = "transport"
	// CodeBackend indicates a non-2xx reply or an explicit error body from the backend.
	CodeBackend Code = "backend"
	// CodeValidation indicates caller input was rejected before any request was made.
	CodeValidation Code = "validation"
	// CodeConflict indicates the operation is not legal in the current state.
	CodeConflict Code = "conflict"
)

// E captures structured error information produced across the stratdeck stack.
type E struct {
	Op      string
	Code    Code
	HTTP    int
	Path    string
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:   strings.TrimSpace(op),
		Code: code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithPath records the backend path involved in the failure.
func WithPath(path string) Option {
	return func(e *E) {
		e.Path = strings.TrimSpace(path)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Code != "" {
		parts = append(parts, "code="+string(e.Code))
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Message returns the operator-facing text for err. Backend messages are
// returned verbatim; other envelopes fall back to their full rendering.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// Validation is shorthand for a validation failure.
func Validation(op, message string) *E {
	return New(op, CodeValidation, WithMessage(message))
}

// Conflict is shorthand for an illegal state transition.
func Conflict(op, message string) *E {
	return New(op, CodeConflict, WithMessage(message))
}
