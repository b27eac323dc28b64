package backend

import (
	"bytes"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
)

// Result is the single outcome shape of every backend request. Err is empty on
// success and otherwise carries the operator-facing failure text.
type Result struct {
	Method string
	Path   string
	Status int
	Body   json.RawMessage
	Err    string
	Code   errs.Code
}

// OK reports whether the request succeeded.
func (r Result) OK() bool { return r.Err == "" }

// Decode unmarshals the body into v. Numbers decode as json.Number when v
// holds interface values, so raw records keep their textual precision.
func (r Result) Decode(v any) error {
	if !r.OK() {
		return r.AsError("backend/decode")
	}
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errs.New("backend/decode", errs.CodeTransport,
			errs.WithPath(r.Path),
			errs.WithMessage("malformed response: "+err.Error()),
			errs.WithCause(err))
	}
	return nil
}

// AsError converts a failed result into an *errs.E. It returns nil for a
// successful result.
func (r Result) AsError(op string) error {
	if r.OK() {
		return nil
	}
	code := r.Code
	if code == "" {
		code = errs.CodeBackend
	}
	return errs.New(op, code,
		errs.WithHTTP(r.Status),
		errs.WithPath(r.Path),
		errs.WithMessage(r.Err))
}

// bodyError extracts a truthy top-level "error" field from body.
func bodyError(body []byte) (string, bool) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", false
	}
	raw := bytes.TrimSpace(envelope.Error)
	switch string(raw) {
	case "", "null", "false", `""`, "0":
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	return string(raw), true
}
