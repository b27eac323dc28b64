package orchestration

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
)

// Analysis is the descriptor returned by /pinescript/infer.
type Analysis struct {
	Inputs  InputSet `json:"inputs"`
	Values  []any    `json:"values,omitempty"`
	Actions []any    `json:"actions,omitempty"`
}

// InputSet is the script's input table. Keys keep the order the backend
// reported them in, which fixes the column order of batch rows.
type InputSet struct {
	keys   []string
	values map[string]json.RawMessage
}

// Keys returns the input names in reported order.
func (s InputSet) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Has reports whether name is a declared input.
func (s InputSet) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Len returns the number of inputs.
func (s InputSet) Len() int { return len(s.keys) }

// UnmarshalJSON reads an object while recording key order. Any non-object
// value yields an empty set.
func (s *InputSet) UnmarshalJSON(data []byte) error {
	s.keys = nil
	s.values = map[string]json.RawMessage{}

	dec := stdjson.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(stdjson.Delim); !ok || delim != '{' {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("inputs: unexpected key token %v", tok)
		}
		var raw stdjson.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if _, seen := s.values[key]; !seen {
			s.keys = append(s.keys, key)
		}
		s.values[key] = json.RawMessage(raw)
	}
	return nil
}

// MarshalJSON writes the object back in reported key order.
func (s InputSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value := s.values[key]
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// infer submits code to /pinescript/infer and decodes the descriptor.
func infer(ctx context.Context, client backend.Requester, op, code string) (Analysis, error) {
	res := client.Post(ctx, "/pinescript/infer", map[string]string{"code": code})
	if err := res.AsError(op); err != nil {
		return Analysis{}, err
	}
	var analysis Analysis
	if err := res.Decode(&analysis); err != nil {
		return Analysis{}, errs.New(op, errs.CodeTransport, errs.WithMessage(errs.Message(err)), errs.WithCause(err))
	}
	return analysis, nil
}
