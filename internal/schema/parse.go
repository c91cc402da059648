package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/parsekit/internal/value"
)

// ParseInput converts command-line text into a value of the field's type.
//
// Formats:
//   - number: any float literal
//   - boolean: strconv.ParseBool syntax
//   - date: RFC 3339
//   - geopoint: "lat,lon"
//   - pointer: "ClassName:objectId"
//   - file: file name
//   - array, object: JSON
//   - any: JSON when it parses, otherwise the raw string
//
// The literal "null" yields value.Null for every type except string.
func ParseInput(f Field, s string) (value.Value, error) {
	if s == "null" && f.Type != TypeString {
		return value.Null{}, nil
	}

	switch f.Type {
	case TypeString:
		return value.String(s), nil
	case TypeNumber:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid number %q", f.Name, s)
		}
		return value.Of(n)
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid boolean %q", f.Name, s)
		}
		return value.Bool(b), nil
	case TypeDate:
		d, err := value.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return d, nil
	case TypeGeoPoint:
		lat, lon, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("field %s: geopoint must be \"lat,lon\", got %q", f.Name, s)
		}
		latF, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		lonF, err2 := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("field %s: invalid geopoint %q", f.Name, s)
		}
		p, err := value.NewGeoPoint(latF, lonF)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return p, nil
	case TypePointer:
		class, id, ok := strings.Cut(s, ":")
		if !ok || class == "" || id == "" {
			return nil, fmt.Errorf("field %s: pointer must be \"Class:objectId\", got %q", f.Name, s)
		}
		return value.Pointer{ClassName: class, ObjectID: id}, nil
	case TypeFile:
		return value.File{Name: s}, nil
	case TypeArray, TypeObject:
		v, err := value.Decode([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid JSON: %w", f.Name, err)
		}
		if f.Type == TypeArray {
			if _, ok := v.(value.Array); !ok {
				return nil, fmt.Errorf("field %s: expected JSON array", f.Name)
			}
		} else if _, ok := v.(value.Object); !ok {
			return nil, fmt.Errorf("field %s: expected JSON object", f.Name)
		}
		return v, nil
	default:
		if v, err := value.Decode([]byte(s)); err == nil {
			return v, nil
		}
		return value.String(s), nil
	}
}
