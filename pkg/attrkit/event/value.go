package event

import (
	"encoding/json"
	"fmt"

	akerrors "github.com/attrkit/attrkit/pkg/attrkit/errors"
)

// Kind identifies the underlying type of a property Value.
type Kind int

const (
	// KindString is a string value.
	KindString Kind = iota

	// KindNumber is a float64 value (integers are represented exactly
	// up to 2^53, matching JSON semantics).
	KindNumber

	// KindBool is a boolean value.
	KindBool

	// KindMap is a nested property mapping.
	KindMap
)

// Value is a tagged-union property value: string, number, bool, or a
// nested mapping. It replaces unchecked dynamic typing with explicit
// serialization rules while preserving arbitrary caller-supplied payloads.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    Properties
}

// Properties is an event property mapping. Insertion order is irrelevant.
type Properties map[string]Value

// String creates a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Number creates a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Bool creates a boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Map creates a nested mapping value.
func Map(m Properties) Value {
	return Value{kind: KindMap, m: m}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind {
	return v.kind
}

// AsString returns the string value and whether the value is a string.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the numeric value and whether the value is a number.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the boolean value and whether the value is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsMap returns the nested mapping and whether the value is a map.
func (v Value) AsMap() (Properties, bool) {
	return v.m, v.kind == KindMap
}

// Float64 coerces the value to float64 for numeric comparison.
// Strings and maps coerce to 0; bools to 0 or 1.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a dynamically-typed value into a Value. Supported
// inputs: string, bool, all integer and float types, map[string]any
// (recursively), and Value itself. Anything else is an error.
func FromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case map[string]any:
		m := make(Properties, len(val))
		for k, item := range val {
			nested, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = nested
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported property type %T", raw)
	}
}

// PropertiesFromAny converts a plain map into Properties. Unsupported
// value types are rejected with a ValidationError naming the offending
// property.
func PropertiesFromAny(raw map[string]any) (Properties, error) {
	props := make(Properties, len(raw))
	for k, v := range raw {
		val, err := FromAny(v)
		if err != nil {
			return nil, &akerrors.ValidationError{
				Field:   "properties." + k,
				Message: err.Error(),
			}
		}
		props[k] = val
	}
	return props, nil
}

// Clone returns a deep copy of the properties.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		if v.kind == KindMap {
			v.m = v.m.Clone()
		}
		out[k] = v
	}
	return out
}
