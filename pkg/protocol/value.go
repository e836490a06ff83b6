package protocol

import (
	"fmt"
	"reflect"
)

// Value is a closed tagged variant holding one payload of the wire type
// identified by Type. Exactly one field besides Type is meaningful; which one
// is determined by Type alone, so every consumer can switch on the code
// instead of inspecting the payload.
type Value struct {
	Type DataType

	Boolean  bool
	Double   float64
	Int      int64
	String   string // also carries json payloads
	Raw      []byte
	Booleans []bool
	Doubles  []float64
	Ints     []int64
	Floats   []float32
	Strings  []string
}

// BooleanValue returns a boolean Value.
func BooleanValue(v bool) Value { return Value{Type: TypeBoolean, Boolean: v} }

// DoubleValue returns a double Value.
func DoubleValue(v float64) Value { return Value{Type: TypeDouble, Double: v} }

// IntValue returns an int Value.
func IntValue(v int64) Value { return Value{Type: TypeInt, Int: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{Type: TypeString, String: v} }

// JSONValue returns a json Value. The payload is the JSON text itself.
func JSONValue(v string) Value { return Value{Type: TypeJSON, String: v} }

// RawValue returns an opaque-binary Value.
func RawValue(v []byte) Value { return Value{Type: TypeRaw, Raw: v} }

// BooleanArrayValue returns a boolean[] Value.
func BooleanArrayValue(v []bool) Value { return Value{Type: TypeBooleanArray, Booleans: v} }

// DoubleArrayValue returns a double[] Value.
func DoubleArrayValue(v []float64) Value { return Value{Type: TypeDoubleArray, Doubles: v} }

// IntArrayValue returns an int[] Value.
func IntArrayValue(v []int64) Value { return Value{Type: TypeIntArray, Ints: v} }

// FloatArrayValue returns a float[] Value.
func FloatArrayValue(v []float32) Value { return Value{Type: TypeFloatArray, Floats: v} }

// StringArrayValue returns a string[] Value.
func StringArrayValue(v []string) Value { return Value{Type: TypeStringArray, Strings: v} }

// Any returns the payload as a plain Go value, for callers that hand values
// to JSON encoders or display code.
func (v Value) Any() any {
	switch v.Type {
	case TypeBoolean:
		return v.Boolean
	case TypeDouble:
		return v.Double
	case TypeInt:
		return v.Int
	case TypeString, TypeJSON:
		return v.String
	case TypeRaw:
		return v.Raw
	case TypeBooleanArray:
		return v.Booleans
	case TypeDoubleArray:
		return v.Doubles
	case TypeIntArray:
		return v.Ints
	case TypeFloatArray:
		return v.Floats
	case TypeStringArray:
		return v.Strings
	default:
		return nil
	}
}

// Equal reports whether two values have the same type code and payload.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	return reflect.DeepEqual(v.Any(), o.Any())
}

// GoString returns a compact debug representation.
func (v Value) GoString() string {
	return fmt.Sprintf("protocol.Value{%s: %v}", v.Type, v.Any())
}
