package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Setter assigns one coerced property value to a typed entity.
type Setter func(target any, value any) error

// Accessors lets callers register a concrete Go type for an entity. New
// allocates an instance; Setters assign properties by name. Properties
// without a setter are ignored.
type Accessors struct {
	New     func() any
	Setters map[string]Setter
}

// Record is the generic entity instance used when no Accessors are
// registered.
type Record struct {
	Entity string
	Fields map[string]any
}

// Get returns a property value, or nil.
func (r *Record) Get(name string) any {
	return r.Fields[name]
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

func (r *Record) String() string {
	return fmt.Sprintf("%s%v", r.Entity, r.Fields)
}

// Materializer builds an entity instance from property values keyed by
// property name.
type Materializer interface {
	Materialize(es *EntitySchema, values map[string]any) (any, error)
}

// DefaultMaterializer coerces values to their declared types and builds
// either the registered typed instance or a *Record.
type DefaultMaterializer struct{}

func (DefaultMaterializer) Materialize(es *EntitySchema, values map[string]any) (any, error) {
	coerced := make(map[string]any, len(es.FieldOrder))
	for _, name := range es.FieldOrder {
		raw, ok := values[name]
		if !ok {
			continue
		}
		v, err := Coerce(es.Fields[name].Type, raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", es.Name, name, err)
		}
		coerced[name] = v
	}

	if es.Accessors == nil || es.Accessors.New == nil {
		return &Record{Entity: es.Name, Fields: coerced}, nil
	}

	target := es.Accessors.New()
	for _, name := range es.FieldOrder {
		set, ok := es.Accessors.Setters[name]
		if !ok {
			continue
		}
		v, ok := coerced[name]
		if !ok {
			continue
		}
		if err := set(target, v); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", es.Name, name, err)
		}
	}
	return target, nil
}

// Coerce converts a raw driver or JSON value to the Go representation of
// ft: string, int64, float64, bool, time.Time, or the value unchanged for
// json. nil stays nil.
func Coerce(ft FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch ft {
	case FieldString:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339), nil
		}
		return fmt.Sprint(v), nil
	case FieldInt:
		return toInt(v)
	case FieldFloat:
		return toFloat(v)
	case FieldBool:
		return toBool(v)
	case FieldTime:
		return toTime(v)
	default:
		return v, nil
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt(uint64(n))
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to int", n)
		}
		return floatToInt(f)
	}
	return 0, fmt.Errorf("cannot convert %T to int", v)
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("cannot convert %v to int without loss", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v is out of int64 range", f)
	}
	return int64(f), nil
}

func uintToInt(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%d is out of int64 range", n)
	}
	return int64(n), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to bool", b)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		parsed, err := dateparse.ParseIn(t, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot convert %q to time: %w", t, err)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}
