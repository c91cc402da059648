package query

import (
	"fmt"
	"strings"
)

// Problem is one issue found by Validate.
type Problem struct {
	Field   string
	Message string
	// Unknown is set when Field is not readable on the class.
	Unknown bool
}

func (p Problem) String() string {
	if p.Field == "" {
		return p.Message
	}
	return p.Field + ": " + p.Message
}

// ValidationResult contains the problems found in a Criteria.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid    bool
	Problems []Problem
}

// FirstUnknown returns the first unknown field, if any.
func (r ValidationResult) FirstUnknown() (string, bool) {
	for _, p := range r.Problems {
		if p.Unknown {
			return p.Field, true
		}
	}
	return "", false
}

// Validate checks c against the fields readable on its class.
//
// Checked:
//  1. Every constrained, ordered, included and selected field is readable
//  2. Limit, Skip, Page and Per are not negative
//  3. NearSphere distances are not negative
//  4. WithinBox corners are ordered (south-west below and left of north-east)
//  5. NearSphere points and WithinBox corners are in coordinate range
//
// Validate is a pure function with no side effects. Problems are reported in
// a deterministic order.
func Validate(c Criteria, readable func(field string) bool) ValidationResult {
	v := &validator{readable: readable}
	v.validate(c)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	readable func(string) bool
	problems []Problem
}

func (v *validator) addProblem(field, format string, args ...any) {
	v.problems = append(v.problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) checkField(field, usage string) {
	if v.readable == nil || v.readable(field) {
		return
	}
	v.problems = append(v.problems, Problem{
		Field:   field,
		Message: fmt.Sprintf("unknown field in %s", usage),
		Unknown: true,
	})
}

func (v *validator) validate(c Criteria) {
	for _, field := range c.Fields() {
		v.checkField(field, "where")
		v.validateConstraint(field, c.constraints[field])
	}
	for _, key := range c.order {
		v.checkField(strings.TrimPrefix(key, "-"), "order")
	}
	for _, field := range c.include {
		v.checkField(rootField(field), "include")
	}
	for _, field := range c.keys {
		v.checkField(rootField(field), "keys")
	}

	if c.hasLimit && c.limit < 0 {
		v.addProblem("", "limit must not be negative, got %d", c.limit)
	}
	if c.skip < 0 {
		v.addProblem("", "skip must not be negative, got %d", c.skip)
	}
	if c.page < 0 {
		v.addProblem("", "page must not be negative, got %d", c.page)
	}
	if c.per < 0 {
		v.addProblem("", "per must not be negative, got %d", c.per)
	}
}

// rootField returns "author" for a dotted path like "author.name".
func rootField(path string) string {
	root, _, _ := strings.Cut(path, ".")
	return root
}

func (v *validator) validateConstraint(field string, con Constraint) {
	switch c := con.(type) {
	case Equals, Exists:
		// always well formed
	case NearSphere:
		if err := c.Point.Validate(); err != nil {
			v.addProblem(field, "near point: %v", err)
		}
		if c.MaxDistance < 0 {
			v.addProblem(field, "max distance must not be negative, got %v", c.MaxDistance)
		}
	case WithinBox:
		if err := c.SouthWest.Validate(); err != nil {
			v.addProblem(field, "box south-west corner: %v", err)
		}
		if err := c.NorthEast.Validate(); err != nil {
			v.addProblem(field, "box north-east corner: %v", err)
		}
		if c.SouthWest.Latitude > c.NorthEast.Latitude || c.SouthWest.Longitude > c.NorthEast.Longitude {
			v.addProblem(field, "box south-west corner must be below and left of north-east corner")
		}
	default:
		v.addProblem(field, "unknown constraint type: %T", con)
	}
}

