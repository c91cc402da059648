package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of dates: ISO 8601, milliseconds, UTC.
const DateLayout = "2006-01-02T15:04:05.000Z"

// Type tags used in "__type" objects.
const (
	TypeDate     = "Date"
	TypeGeoPoint = "GeoPoint"
	TypeFile     = "File"
	TypePointer  = "Pointer"
)

// FormatDate formats t in the wire date layout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a wire date. Any RFC 3339 timestamp is accepted.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return NewDate(t), nil
}

// ToJSON converts v into plain Go data (map[string]any, []any, string,
// float64, bool, nil) ready for encoding/json or MarshalCanonical.
func ToJSON(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	case Date:
		return map[string]any{
			"__type": TypeDate,
			"iso":    FormatDate(val.Time()),
		}
	case GeoPoint:
		return map[string]any{
			"__type":    TypeGeoPoint,
			"latitude":  val.Latitude,
			"longitude": val.Longitude,
		}
	case File:
		m := map[string]any{
			"__type": TypeFile,
			"name":   val.Name,
		}
		if val.URL != "" {
			m["url"] = val.URL
		}
		return m
	case Pointer:
		return map[string]any{
			"__type":    TypePointer,
			"className": val.ClassName,
			"objectId":  val.ObjectID,
		}
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToJSON(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToJSON(elem)
		}
		return out
	default:
		return nil
	}
}

// FromJSON converts plain decoded JSON data into a Value.
// "__type" objects become Date, GeoPoint, File or Pointer. Unknown tags
// (Relation, Bytes, ...) are kept as plain Objects.
func FromJSON(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Number(val), nil
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", val, err)
		}
		return Number(f), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			v, err := FromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil
	case map[string]any:
		if tag, ok := val["__type"].(string); ok {
			if v, handled, err := fromTagged(tag, val); handled {
				return v, err
			}
		}
		obj := make(Object, len(val))
		for k, elem := range val {
			v, err := FromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = v
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported JSON type: %T", raw)
	}
}

// fromTagged decodes a "__type" object. handled is false for unknown tags.
func fromTagged(tag string, m map[string]any) (v Value, handled bool, err error) {
	switch tag {
	case TypeDate:
		iso, _ := m["iso"].(string)
		d, err := ParseDate(iso)
		if err != nil {
			return nil, true, err
		}
		return d, true, nil
	case TypeGeoPoint:
		lat, latOK := number(m["latitude"])
		lon, lonOK := number(m["longitude"])
		if !latOK || !lonOK {
			return nil, true, fmt.Errorf("GeoPoint requires numeric latitude and longitude")
		}
		p, err := NewGeoPoint(lat, lon)
		if err != nil {
			return nil, true, err
		}
		return p, true, nil
	case TypeFile:
		name, _ := m["name"].(string)
		url, _ := m["url"].(string)
		return File{Name: name, URL: url}, true, nil
	case TypePointer:
		className, _ := m["className"].(string)
		objectID, _ := m["objectId"].(string)
		if className == "" || objectID == "" {
			return nil, true, fmt.Errorf("Pointer requires className and objectId")
		}
		return Pointer{ClassName: className, ObjectID: objectID}, true, nil
	default:
		return nil, false, nil
	}
}

func number(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Decode parses JSON bytes into a Value.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromJSON(raw)
}

// DecodeObject parses JSON bytes that must hold an object.
func DecodeObject(data []byte) (Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %s", TypeName(v))
	}
	return obj, nil
}

// Encode produces the canonical JSON encoding of v.
func Encode(v Value) ([]byte, error) {
	return MarshalCanonical(ToJSON(v))
}

// MarshalJSON implements json.Marshaler for Object.
func (obj Object) MarshalJSON() ([]byte, error) {
	return Encode(obj)
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeObject(data)
	if err != nil {
		return err
	}
	*obj = decoded
	return nil
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	return Encode(arr)
}

// MarshalJSON implements json.Marshaler for Date.
func (d Date) MarshalJSON() ([]byte, error) {
	return Encode(d)
}

// MarshalJSON implements json.Marshaler for GeoPoint.
func (p GeoPoint) MarshalJSON() ([]byte, error) {
	return Encode(p)
}

// MarshalJSON implements json.Marshaler for File.
func (f File) MarshalJSON() ([]byte, error) {
	return Encode(f)
}

// MarshalJSON implements json.Marshaler for Pointer.
func (p Pointer) MarshalJSON() ([]byte, error) {
	return Encode(p)
}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}
