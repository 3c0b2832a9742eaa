// Package payload decodes JSON records field by field so that a missing or
// mistyped field is reported by name instead of silently defaulting.
package payload

import (
	"bytes"
	"encoding/json"
	"net/url"
	"time"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
)

// Object is a decoded JSON object bound to the entity name used in errors.
type Object struct {
	entity string
	fields map[string]any
}

func Decode(entity string, data []byte) (Object, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Object{}, pkgerrors.DeserializationError(entity, "", "empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Object{}, pkgerrors.Wrapf(pkgerrors.KindParse, "decode "+entity, err, "malformed JSON: %v", err)
	}
	if fields == nil {
		return Object{}, pkgerrors.DeserializationError(entity, "", "expected JSON object")
	}

	return Object{entity: entity, fields: fields}, nil
}

func FromMap(entity string, fields map[string]any) Object {
	return Object{entity: entity, fields: fields}
}

func (o Object) Entity() string {
	return o.entity
}

func (o Object) Map() map[string]any {
	return o.fields
}

func (o Object) Has(field string) bool {
	_, ok := o.fields[field]

	return ok
}

func (o Object) missing(field string) error {
	return pkgerrors.DeserializationError(o.entity, field, "missing")
}

func (o Object) mistyped(field, want string) error {
	return pkgerrors.DeserializationError(o.entity, field, "expected "+want)
}

func (o Object) String(field string) (string, error) {
	v, ok := o.fields[field]
	if !ok {
		return "", o.missing(field)
	}
	s, ok := v.(string)
	if !ok {
		return "", o.mistyped(field, "string")
	}

	return s, nil
}

// NonEmptyString is String that also rejects "".
func (o Object) NonEmptyString(field string) (string, error) {
	s, err := o.String(field)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", pkgerrors.DeserializationError(o.entity, field, "empty string")
	}

	return s, nil
}

// OptionalString returns "" when the field is absent or null.
func (o Object) OptionalString(field string) (string, error) {
	if v, ok := o.fields[field]; !ok || v == nil {
		return "", nil
	}

	return o.String(field)
}

func (o Object) Bool(field string) (bool, error) {
	v, ok := o.fields[field]
	if !ok {
		return false, o.missing(field)
	}
	b, ok := v.(bool)
	if !ok {
		return false, o.mistyped(field, "bool")
	}

	return b, nil
}

func (o Object) Int(field string) (int64, error) {
	v, ok := o.fields[field]
	if !ok {
		return 0, o.missing(field)
	}

	return toInt(v, func() error { return o.mistyped(field, "integer") })
}

func toInt(v any, mistyped func() error) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, mistyped()
		}

		return i, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, mistyped()
		}

		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, mistyped()
	}
}

func (o Object) Time(field string) (time.Time, error) {
	s, err := o.String(field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, o.mistyped(field, "RFC3339 string")
	}

	return t, nil
}

func (o Object) URL(field string) (*url.URL, error) {
	s, err := o.NonEmptyString(field)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, o.mistyped(field, "URL")
	}

	return u, nil
}

func (o Object) Strings(field string) ([]string, error) {
	v, ok := o.fields[field]
	if !ok {
		return nil, o.missing(field)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, o.mistyped(field, "array of strings")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, o.mistyped(field, "array of strings")
		}
		out = append(out, s)
	}

	return out, nil
}

// StringMap reads an object whose values are all strings. Absent or null
// fields yield an empty map.
func (o Object) StringMap(field string) (map[string]string, error) {
	v, ok := o.fields[field]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, o.mistyped(field, "object of strings")
	}

	out := make(map[string]string, len(m))
	for k, raw := range m {
		s, ok := raw.(string)
		if !ok {
			return nil, o.mistyped(field+"."+k, "string")
		}
		out[k] = s
	}

	return out, nil
}

func (o Object) Object(field string) (Object, error) {
	v, ok := o.fields[field]
	if !ok {
		return Object{}, o.missing(field)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Object{}, o.mistyped(field, "object")
	}

	return Object{entity: o.entity, fields: m}, nil
}

// Objects reads an array of objects.
func (o Object) Objects(field string) ([]Object, error) {
	v, ok := o.fields[field]
	if !ok {
		return nil, o.missing(field)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, o.mistyped(field, "array of objects")
	}

	out := make([]Object, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, o.mistyped(field, "array of objects")
		}
		out = append(out, Object{entity: o.entity, fields: m})
	}

	return out, nil
}

// Ints reads an array of integers.
func (o Object) Ints(field string) ([]int64, error) {
	v, ok := o.fields[field]
	if !ok {
		return nil, o.missing(field)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, o.mistyped(field, "array of integers")
	}

	out := make([]int64, 0, len(items))
	for _, item := range items {
		i, err := toInt(item, func() error { return o.mistyped(field, "array of integers") })
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}

	return out, nil
}
