package spanz

import (
	"encoding/json"
	"strconv"
)

// ValueKind identifies the type held by a Value.
type ValueKind uint8

// Tag value kinds.
const (
	KindInvalid ValueKind = iota
	KindString
	KindInt64
	KindFloat64
	KindBool
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a tag value: exactly one of string, int64, float64 or bool.
// The zero Value is invalid and is never stored on a span.
type Value struct {
	str  string
	num  int64
	flt  float64
	kind ValueKind
}

// String creates a string tag value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Int64 creates an integer tag value.
func Int64(v int64) Value { return Value{kind: KindInt64, num: v} }

// Int creates an integer tag value from an int.
func Int(v int) Value { return Int64(int64(v)) }

// Float64 creates a floating point tag value.
func Float64(v float64) Value { return Value{kind: KindFloat64, flt: v} }

// Bool creates a boolean tag value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

// Kind reports which variant the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// Valid reports whether the value holds one of the supported variants.
func (v Value) Valid() bool { return v.kind != KindInvalid }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt64 returns the integer variant.
func (v Value) AsInt64() (int64, bool) { return v.num, v.kind == KindInt64 }

// AsFloat64 returns the floating point variant.
func (v Value) AsFloat64() (float64, bool) { return v.flt, v.kind == KindFloat64 }

// AsBool returns the boolean variant.
func (v Value) AsBool() (bool, bool) { return v.num == 1, v.kind == KindBool }

// String renders the value the way samplers and decorators match on it.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt64:
		return strconv.FormatInt(v.num, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.num == 1)
	default:
		return ""
	}
}

// Interface returns the held value as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt64:
		return v.num
	case KindFloat64:
		return v.flt
	case KindBool:
		return v.num == 1
	default:
		return nil
	}
}

// MarshalJSON encodes the held value with its natural JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
