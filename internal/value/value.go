package value

import (
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface representing an attribute value.
// Only Null, String, Number, Bool, Date, GeoPoint, File, Pointer, Array and
// Object implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an unset or JSON null value.
type Null struct{}

func (Null) value() {}

// String represents a string value.
type String string

func (String) value() {}

// Number represents a numeric value. The service stores all numbers as doubles.
type Number float64

func (Number) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Date represents a timestamp. Encoded with millisecond precision in UTC.
type Date time.Time

func (Date) value() {}

// Time returns the date as a time.Time.
func (d Date) Time() time.Time {
	return time.Time(d)
}

// File references an uploaded file by name and URL.
type File struct {
	Name string
	URL  string
}

func (File) value() {}

// Pointer references another remote object by class and id.
type Pointer struct {
	ClassName string
	ObjectID  string
}

func (Pointer) value() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) value() {}

// Object represents a nested JSON object.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// NewDate truncates t to millisecond precision and converts it to UTC.
func NewDate(t time.Time) Date {
	return Date(t.UTC().Truncate(time.Millisecond))
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Of converts a Go value into a Value.
// Accepts nil, Value, string, bool, all int and float kinds, time.Time,
// []any and map[string]any (recursively).
func Of(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("number is not finite: %v", val)
		}
		return Number(val), nil
	case time.Time:
		return NewDate(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			v, err := Of(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil
	case map[string]any:
		// Tagged objects keep their meaning when they arrive as plain maps,
		// e.g. from YAML scenario files.
		if _, tagged := val["__type"]; tagged {
			return FromJSON(val)
		}
		obj := make(Object, len(val))
		for k, elem := range val {
			v, err := Of(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = v
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustOf is like Of but panics on error. Intended for literals in tests.
func MustOf(v any) Value {
	val, err := Of(v)
	if err != nil {
		panic(err)
	}
	return val
}

// SortedKeys returns keys in UTF-16 code unit order, the same order used by
// MarshalCanonical.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 compares strings by UTF-16 code units.
// Go's default string comparison uses UTF-8 which produces a different order
// for characters outside the BMP.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// Shorter string comes first
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports whether two values are equal.
// Dates compare by instant; numbers by float equality; arrays and objects
// recursively. nil and Null are equal.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}

	switch x := a.(type) {
	case String, Number, Bool, GeoPoint, File, Pointer:
		return a == b
	case Date:
		y, ok := b.(Date)
		return ok && x.Time().Equal(y.Time())
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// TypeName returns the schema type name of v ("string", "number", ...).
func TypeName(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "boolean"
	case Date:
		return "date"
	case GeoPoint:
		return "geopoint"
	case File:
		return "file"
	case Pointer:
		return "pointer"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
