// Package schema defines the canonical console entities and the pure
// functions that map raw backend records onto them.
package schema

import (
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Record is a raw backend object as decoded from JSON. Numbers are expected
// as json.Number, though float64 and string values are accepted too.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if len(r) == 0 {
		return Record{}
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Lookup returns the value under key when it carries data. Nil values and
// empty strings count as absent; an explicit zero is present.
func (r Record) Lookup(key string) (any, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

// First returns the value of the first key in keys that carries data.
func (r Record) First(keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := r.Lookup(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Text returns the first present field rendered as text, or fallback.
func (r Record) Text(keys []string, fallback string) string {
	v, ok := r.First(keys)
	if !ok {
		return fallback
	}
	return toText(v)
}

// Number returns the first present field parsed as a finite float.
func (r Record) Number(keys ...string) (float64, bool) {
	v, ok := r.First(keys)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toText(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch typed := v.(type) {
	case float64:
		f = typed
	case int:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatFixed renders raw as a decimal with the given number of places.
// Unparseable input renders as zero.
func FormatFixed(raw string, places int32) string {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		d = decimal.Zero
	}
	return d.StringFixed(places)
}

// FormatFloat renders f with the given number of places.
func FormatFloat(f float64, places int32) string {
	return decimal.NewFromFloat(f).StringFixed(places)
}
