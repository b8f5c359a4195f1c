package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// TimeLayout is the fixed-width UTC layout times are stored with, so that
// their string form sorts chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Fields is the content of a document.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the commit time on write.
var ServerTimestamp any = serverTimestamp{}

// Document is a snapshot of a stored document.
type Document struct {
	Ref        Ref
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the fields into v, a pointer to a struct tagged with
// `mapstructure` names. Stored time strings decode into time.Time.
func (d *Document) DataTo(v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return fmt.Errorf("store: decoder: %w", err)
	}

	if err := dec.Decode(map[string]any(d.Fields)); err != nil {
		return fmt.Errorf("store: decode %s: %w", d.Ref.Path(), err)
	}

	return nil
}

// Int returns a numeric field as an integer, 0 when absent or not a number.
func (d *Document) Int(field string) int64 {
	f, ok := Number(d.Fields[field])
	if !ok {
		return 0
	}

	return int64(math.Round(f))
}

// String returns a string field, "" when absent or not a string.
func (d *Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Time returns a time field, the zero time when absent or unparsable.
func (d *Document) Time(field string) time.Time {
	t, _ := Time(d.Fields[field])
	return t
}

// Exists reports whether the field is present and not null.
func (d *Document) Exists(field string) bool {
	v, ok := d.Fields[field]
	return ok && v != nil
}

// Number converts any numeric value a backend may return into a float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}

// Time converts a stored time value into a time.Time.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}

	return time.Time{}, false
}

// Resolve returns a copy of fields ready to be persisted: ServerTimestamp is
// replaced by now, times are formatted with TimeLayout and slices of structs
// or maps are flattened into plain JSON-compatible values.
func Resolve(fields Fields, now time.Time) (Fields, error) {
	out := make(Fields, len(fields))
	for k, v := range fields {
		rv, err := resolveValue(v, now)
		if err != nil {
			return nil, fmt.Errorf("store: field %q: %w", k, err)
		}
		out[k] = rv
	}

	return out, nil
}

func resolveValue(v any, now time.Time) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case serverTimestamp:
		return now.UTC().Format(TimeLayout), nil
	case time.Time:
		return t.UTC().Format(TimeLayout), nil
	case string, bool, float64, float32, int, int32, int64, json.Number:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case Fields:
		return Resolve(t, now)
	case map[string]any:
		return Resolve(t, now)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			re, err := resolveValue(e, now)
			if err != nil {
				return nil, err
			}
			out[i] = re
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			re, err := resolveValue(rv.Index(i).Interface(), now)
			if err != nil {
				return nil, err
			}
			out[i] = re
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(Fields, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return Resolve(m, now)
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}

	return nil, fmt.Errorf("unsupported value of type %T", v)
}

// Merge applies resolved fields onto an existing document's fields.
func Merge(base, fields Fields, merge bool) Fields {
	if !merge || base == nil {
		return maps.Clone(fields)
	}

	out := maps.Clone(base)
	maps.Copy(out, fields)
	return out
}

// Encode marshals a document body for byte-oriented backends.
func Encode(fields Fields) ([]byte, error) {
	return json.Marshal(fields)
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Fields, error) {
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	return f, nil
}
