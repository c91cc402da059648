package devserver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/value"
)

// keyPattern is the shape of class and field names the service accepts.
var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// columns maps remote-assigned fields to their table columns.
var columns = map[string]string{
	"objectId":  "object_id",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

// filter is criteria compiled for SQLite. Constraints SQL cannot express
// (composite equality, geo queries) are left in residual and applied in Go.
//
// All values are parameterized, never interpolated.
type filter struct {
	where     []string
	args      []any
	order     []string
	orderArgs []any
	residual  map[string]query.Constraint
}

// compileCriteria converts criteria to a filter. Field names must match
// keyPattern since they are used in JSON paths.
func compileCriteria(c query.Criteria) (filter, error) {
	f := filter{residual: make(map[string]query.Constraint)}

	for _, field := range c.Fields() {
		if err := checkKey(field); err != nil {
			return filter{}, err
		}
		con, _ := c.Constraint(field)
		clause, args, ok := compileConstraint(field, con)
		if !ok {
			f.residual[field] = con
			continue
		}
		f.where = append(f.where, clause)
		f.args = append(f.args, args...)
	}

	for _, key := range c.OrderKeys() {
		field, desc := strings.CutPrefix(key, "-")
		if err := checkKey(field); err != nil {
			return filter{}, err
		}
		dir := " ASC"
		if desc {
			dir = " DESC"
		}
		if col, ok := columns[field]; ok {
			f.order = append(f.order, col+dir)
			continue
		}
		f.order = append(f.order, "json_extract(data, ?)"+dir)
		f.orderArgs = append(f.orderArgs, jsonPath(field))
	}
	return f, nil
}

func checkKey(field string) error {
	if !keyPattern.MatchString(field) {
		return fmt.Errorf("invalid field name: %s", field)
	}
	return nil
}

func jsonPath(field string) string {
	return "$." + field
}

// compileConstraint returns the SQL clause for con, or false when it must
// be applied in Go.
func compileConstraint(field string, con query.Constraint) (string, []any, bool) {
	switch con := con.(type) {
	case query.Equals:
		if col, ok := columns[field]; ok {
			return compileColumnEquals(col, con.Value)
		}
		return compileScalarEquals(field, con.Value)
	case query.Exists:
		if _, ok := columns[field]; ok {
			if con.Present {
				return "1 = 1", nil, true
			}
			return "1 = 0", nil, true
		}
		if con.Present {
			return "json_type(data, ?) IS NOT NULL", []any{jsonPath(field)}, true
		}
		return "json_type(data, ?) IS NULL", []any{jsonPath(field)}, true
	default:
		return "", nil, false
	}
}

func compileColumnEquals(col string, v value.Value) (string, []any, bool) {
	switch v := v.(type) {
	case value.String:
		return col + " = ?", []any{string(v)}, true
	case value.Date:
		return col + " = ?", []any{value.FormatDate(v.Time())}, true
	default:
		return "", nil, false
	}
}

// compileScalarEquals matches the field itself or, for array fields, any
// element. JSON types are compared as well as values so that true never
// equals 1.
func compileScalarEquals(field string, v value.Value) (string, []any, bool) {
	path := jsonPath(field)

	var types string
	var operand []any
	switch v := v.(type) {
	case value.Null:
		return "(json_type(data, ?) IS NULL OR json_type(data, ?) = 'null')", []any{path, path}, true
	case value.String:
		types, operand = "'text'", []any{string(v)}
	case value.Number:
		types, operand = "'integer', 'real'", []any{float64(v)}
	case value.Bool:
		if v {
			types = "'true'"
		} else {
			types = "'false'"
		}
	default:
		return "", nil, false
	}

	direct := "json_type(data, ?) IN (" + types + ")"
	element := "e.type IN (" + types + ")"
	args := []any{path}
	if operand != nil {
		direct += " AND json_extract(data, ?) = ?"
		element += " AND e.value = ?"
		args = append(args, path, operand[0])
	}
	args = append(args, path, path)
	if operand != nil {
		args = append(args, operand[0])
	}

	clause := "((" + direct + ") OR (json_type(data, ?) = 'array' AND EXISTS (SELECT 1 FROM json_each(data, ?) AS e WHERE " + element + ")))"
	return clause, args, true
}

// fieldValue returns a field of a row for matching, with remote-assigned
// fields as Dates.
func fieldValue(r Row, field string) (value.Value, bool) {
	switch field {
	case "objectId":
		return value.String(r.ObjectID), true
	case "createdAt":
		return value.NewDate(r.CreatedAt), true
	case "updatedAt":
		return value.NewDate(r.UpdatedAt), true
	}
	v, ok := r.Data[field]
	return v, ok
}

// matches applies a residual constraint to a row.
func matches(r Row, field string, con query.Constraint) bool {
	v, ok := fieldValue(r, field)

	switch con := con.(type) {
	case query.Equals:
		if !ok {
			return value.IsNull(con.Value)
		}
		if value.Equal(v, con.Value) {
			return true
		}
		if arr, isArr := v.(value.Array); isArr {
			for _, elem := range arr {
				if value.Equal(elem, con.Value) {
					return true
				}
			}
		}
		return false
	case query.Exists:
		return ok == con.Present
	case query.NearSphere:
		p, isPoint := v.(value.GeoPoint)
		if !ok || !isPoint {
			return false
		}
		return con.MaxDistance <= 0 || p.DistanceTo(con.Point) <= con.MaxRadians()
	case query.WithinBox:
		p, isPoint := v.(value.GeoPoint)
		return ok && isPoint && p.InBox(con.SouthWest, con.NorthEast)
	default:
		return false
	}
}

// applyResidual filters rows by the residual constraints. When a
// $nearSphere constraint is present and no explicit order was requested,
// rows are sorted by distance, closest first.
func applyResidual(rows []Row, f filter, ordered bool) []Row {
	if len(f.residual) == 0 {
		return rows
	}

	fields := make([]string, 0, len(f.residual))
	for field := range f.residual {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := rows[:0:0]
	for _, r := range rows {
		keep := true
		for _, field := range fields {
			if !matches(r, field, f.residual[field]) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}

	if ordered {
		return out
	}
	for _, field := range fields {
		near, ok := f.residual[field].(query.NearSphere)
		if !ok {
			continue
		}
		distance := func(r Row) float64 {
			v, _ := fieldValue(r, field)
			return v.(value.GeoPoint).DistanceTo(near.Point)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return distance(out[i]) < distance(out[j])
		})
		break
	}
	return out
}

// Result limits applied when a query sets none, and at most.
const (
	defaultLimit = 100
	maxLimit     = 1000
)

// window applies skip and limit.
func window(rows []Row, c query.Criteria) []Row {
	limit, hasLimit, skip := c.Window()
	if !hasLimit {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
