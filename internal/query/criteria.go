package query

import (
	"maps"
	"slices"
	"strings"

	"github.com/roach88/parsekit/internal/value"
)

// DefaultPer is the page size used when Page is set without Per.
// It matches the service's default result limit.
const DefaultPer = 100

// Criteria is an immutable query description for one class.
// The zero value is an empty query with no class.
type Criteria struct {
	className   string
	constraints map[string]Constraint
	order       []string
	limit       int
	hasLimit    bool
	skip        int
	page        int
	per         int
	include     []string
	keys        []string
	countOnly   bool
}

// New returns empty criteria for className.
func New(className string) Criteria {
	return Criteria{className: className}
}

// clone returns a deep copy so the receiver is never mutated.
func (c Criteria) clone() Criteria {
	out := c
	out.constraints = maps.Clone(c.constraints)
	out.order = slices.Clone(c.order)
	out.include = slices.Clone(c.include)
	out.keys = slices.Clone(c.keys)
	return out
}

func (c Criteria) with(field string, con Constraint) Criteria {
	out := c.clone()
	if out.constraints == nil {
		out.constraints = make(map[string]Constraint, 1)
	}
	out.constraints[field] = con
	return out
}

// Where constrains field to equal v. A later constraint on the same field
// replaces this one.
func (c Criteria) Where(field string, v value.Value) Criteria {
	if v == nil {
		v = value.Null{}
	}
	return c.with(field, Equals{Value: v})
}

// WhereExists constrains field to be set (present) or unset.
func (c Criteria) WhereExists(field string, present bool) Criteria {
	return c.with(field, Exists{Present: present})
}

// WhereNear constrains a GeoPoint field to lie within maxDistance of p,
// closest first. A maxDistance of zero means unbounded.
func (c Criteria) WhereNear(field string, p value.GeoPoint, maxDistance float64, unit value.Unit) Criteria {
	return c.with(field, NearSphere{Point: p, MaxDistance: maxDistance, Unit: unit})
}

// WhereWithinBox constrains a GeoPoint field to the given box.
func (c Criteria) WhereWithinBox(field string, southWest, northEast value.GeoPoint) Criteria {
	return c.with(field, WithinBox{SouthWest: southWest, NorthEast: northEast})
}

// Order appends sort keys. Prefix a key with "-" (or suffix " desc") for
// descending order.
func (c Criteria) Order(keys ...string) Criteria {
	out := c.clone()
	for _, k := range keys {
		if k = normalizeOrderKey(k); k != "" {
			out.order = append(out.order, k)
		}
	}
	return out
}

// normalizeOrderKey turns "title desc" into "-title" and "title asc" into "title".
func normalizeOrderKey(k string) string {
	k = strings.TrimSpace(k)
	name, dir, ok := strings.Cut(k, " ")
	if !ok {
		return k
	}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "desc":
		return "-" + name
	default:
		return name
	}
}

// Limit caps the number of rows returned.
func (c Criteria) Limit(n int) Criteria {
	out := c.clone()
	out.limit = n
	out.hasLimit = true
	return out
}

// Skip skips the first n rows.
func (c Criteria) Skip(n int) Criteria {
	out := c.clone()
	out.skip = n
	return out
}

// Page selects a 1-based page. Page and Per take precedence over Limit and Skip.
func (c Criteria) Page(n int) Criteria {
	out := c.clone()
	out.page = n
	return out
}

// Per sets the page size.
func (c Criteria) Per(n int) Criteria {
	out := c.clone()
	out.per = n
	return out
}

// Include asks the service to embed the objects behind pointer fields.
func (c Criteria) Include(fields ...string) Criteria {
	out := c.clone()
	out.include = appendUnique(out.include, fields...)
	return out
}

// Keys restricts the fields returned for each row.
func (c Criteria) Keys(fields ...string) Criteria {
	out := c.clone()
	out.keys = appendUnique(out.keys, fields...)
	return out
}

// CountOnly turns the query into a count: no rows are returned.
func (c Criteria) CountOnly() Criteria {
	out := c.clone()
	out.countOnly = true
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, s := range items {
		if s != "" && !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

// ClassName returns the queried class.
func (c Criteria) ClassName() string { return c.className }

// Constraint returns the constraint on field, if any.
func (c Criteria) Constraint(field string) (Constraint, bool) {
	con, ok := c.constraints[field]
	return con, ok
}

// Constraints returns a copy of all constraints.
func (c Criteria) Constraints() map[string]Constraint {
	return maps.Clone(c.constraints)
}

// Fields returns the constrained field names, sorted.
func (c Criteria) Fields() []string {
	return slices.Sorted(maps.Keys(c.constraints))
}

// OrderKeys returns the sort keys ("-" prefix for descending).
func (c Criteria) OrderKeys() []string { return slices.Clone(c.order) }

// Includes returns the included pointer fields.
func (c Criteria) Includes() []string { return slices.Clone(c.include) }

// SelectedKeys returns the projected fields; empty means all.
func (c Criteria) SelectedKeys() []string { return slices.Clone(c.keys) }

// IsCount reports whether this is a count-only query.
func (c Criteria) IsCount() bool { return c.countOnly }

// Window returns the effective limit and skip. ok is false when no limit
// applies. With a page set, limit is the page size and skip is
// (page-1)*per. Count queries always have limit 0.
func (c Criteria) Window() (limit int, ok bool, skip int) {
	if c.countOnly {
		return 0, true, 0
	}
	if c.page > 0 || c.per > 0 {
		per := c.per
		if per <= 0 {
			per = DefaultPer
		}
		page := max(c.page, 1)
		return per, true, (page - 1) * per
	}
	return c.limit, c.hasLimit, c.skip
}

// First returns criteria for the first matching row: limit 1, other
// criteria unchanged.
func (c Criteria) First() Criteria {
	out := c.Limit(1)
	out.page, out.per = 0, 0
	if c.page > 0 || c.per > 0 {
		_, _, skip := c.Window()
		out.skip = skip
	}
	return out
}
