package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/parsekit/internal/value"
)

// ErrMalformed is returned by Decode for query parameters it cannot read.
var ErrMalformed = errors.New("malformed query")

// Parameter names.
const (
	ParamWhere   = "where"
	ParamOrder   = "order"
	ParamLimit   = "limit"
	ParamSkip    = "skip"
	ParamCount   = "count"
	ParamInclude = "include"
	ParamKeys    = "keys"
)

// Encode returns the query parameters for c.
func Encode(c Criteria) (url.Values, error) {
	params := url.Values{}

	if len(c.constraints) > 0 {
		where, err := WhereJSON(c)
		if err != nil {
			return nil, err
		}
		params.Set(ParamWhere, string(where))
	}
	if len(c.order) > 0 {
		params.Set(ParamOrder, strings.Join(c.order, ","))
	}

	limit, hasLimit, skip := c.Window()
	if hasLimit {
		params.Set(ParamLimit, strconv.Itoa(limit))
	}
	if skip > 0 {
		params.Set(ParamSkip, strconv.Itoa(skip))
	}
	if c.countOnly {
		params.Set(ParamCount, "1")
	}

	if len(c.include) > 0 {
		params.Set(ParamInclude, strings.Join(c.include, ","))
	}
	if len(c.keys) > 0 {
		params.Set(ParamKeys, strings.Join(c.keys, ","))
	}
	return params, nil
}

// WhereJSON returns the canonical JSON of the constraint map.
func WhereJSON(c Criteria) ([]byte, error) {
	where := make(map[string]any, len(c.constraints))
	for field, con := range c.constraints {
		where[field] = constraintJSON(con)
	}
	b, err := value.MarshalCanonical(where)
	if err != nil {
		return nil, fmt.Errorf("encode where: %w", err)
	}
	return b, nil
}

func constraintJSON(con Constraint) any {
	switch c := con.(type) {
	case Equals:
		return value.ToJSON(c.Value)
	case Exists:
		return map[string]any{OpExists: c.Present}
	case NearSphere:
		m := map[string]any{OpNearSphere: value.ToJSON(c.Point)}
		if c.MaxDistance > 0 {
			m[maxDistanceOp(c.Unit)] = c.MaxDistance
		}
		return m
	case WithinBox:
		return map[string]any{
			OpWithin: map[string]any{
				OpBox: []any{value.ToJSON(c.SouthWest), value.ToJSON(c.NorthEast)},
			},
		}
	default:
		panic(fmt.Sprintf("unhandled constraint type %T", con))
	}
}

// Decode reads query parameters produced by Encode (or any client speaking
// the same grammar). Unknown "$" operators fail with ErrMalformed.
func Decode(className string, params url.Values) (Criteria, error) {
	c := New(className)

	if raw := params.Get(ParamWhere); raw != "" {
		constraints, err := decodeWhere([]byte(raw))
		if err != nil {
			return Criteria{}, err
		}
		c.constraints = constraints
	}
	if raw := params.Get(ParamOrder); raw != "" {
		c = c.Order(strings.Split(raw, ",")...)
	}
	if raw := params.Get(ParamLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Criteria{}, fmt.Errorf("%w: limit %q", ErrMalformed, raw)
		}
		c = c.Limit(n)
	}
	if raw := params.Get(ParamSkip); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Criteria{}, fmt.Errorf("%w: skip %q", ErrMalformed, raw)
		}
		c = c.Skip(n)
	}
	if params.Get(ParamCount) == "1" {
		c = c.CountOnly()
	}
	if raw := params.Get(ParamInclude); raw != "" {
		c = c.Include(strings.Split(raw, ",")...)
	}
	if raw := params.Get(ParamKeys); raw != "" {
		c = c.Keys(strings.Split(raw, ",")...)
	}
	return c, nil
}

func decodeWhere(data []byte) (map[string]Constraint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: where: %v", ErrMalformed, err)
	}

	out := make(map[string]Constraint, len(raw))
	for field, v := range raw {
		con, err := decodeConstraint(v)
		if err != nil {
			return nil, fmt.Errorf("%w: where[%q]: %v", ErrMalformed, field, err)
		}
		out[field] = con
	}
	return out, nil
}

func decodeConstraint(raw any) (Constraint, error) {
	m, ok := raw.(map[string]any)
	if !ok || !hasOperator(m) {
		v, err := value.FromJSON(raw)
		if err != nil {
			return nil, err
		}
		return Equals{Value: v}, nil
	}

	if present, ok := m[OpExists]; ok {
		b, ok := present.(bool)
		if !ok {
			return nil, fmt.Errorf("%s expects a boolean", OpExists)
		}
		return Exists{Present: b}, nil
	}

	if point, ok := m[OpNearSphere]; ok {
		p, err := decodeGeoPoint(point)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", OpNearSphere, err)
		}
		near := NearSphere{Point: p}
		for _, unit := range []value.Unit{value.Radians, value.Miles, value.Kilometers} {
			op := maxDistanceOp(unit)
			if d, ok := m[op]; ok {
				n, ok := d.(json.Number)
				if !ok {
					return nil, fmt.Errorf("%s expects a number", op)
				}
				f, err := n.Float64()
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				near.MaxDistance, near.Unit = f, unit
			}
		}
		return near, nil
	}

	if within, ok := m[OpWithin].(map[string]any); ok {
		box, ok := within[OpBox].([]any)
		if !ok || len(box) != 2 {
			return nil, fmt.Errorf("%s expects %s with two points", OpWithin, OpBox)
		}
		sw, err := decodeGeoPoint(box[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", OpBox, err)
		}
		ne, err := decodeGeoPoint(box[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", OpBox, err)
		}
		return WithinBox{SouthWest: sw, NorthEast: ne}, nil
	}

	for op := range m {
		if strings.HasPrefix(op, "$") {
			return nil, fmt.Errorf("unsupported operator %s", op)
		}
	}
	return nil, fmt.Errorf("unreadable constraint")
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func decodeGeoPoint(raw any) (value.GeoPoint, error) {
	v, err := value.FromJSON(raw)
	if err != nil {
		return value.GeoPoint{}, err
	}
	p, ok := v.(value.GeoPoint)
	if !ok {
		return value.GeoPoint{}, fmt.Errorf("expected GeoPoint, got %s", value.TypeName(v))
	}
	return p, nil
}
