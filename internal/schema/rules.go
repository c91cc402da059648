package schema

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/roach88/parsekit/internal/value"
)

// Rule is a validation rule bound to one field.
type Rule interface {
	// Field returns the field the rule checks.
	Field() string
	// Kind names the rule ("presence", "length", ...).
	Kind() string
	// Check returns a message and false when v violates the rule.
	Check(v value.Value) (string, bool)
}

// Presence requires a non-blank value: not null, not an empty or
// whitespace-only string, not an empty array or object.
type Presence struct {
	FieldName string
}

func (r Presence) Field() string { return r.FieldName }
func (r Presence) Kind() string  { return "presence" }

func (r Presence) Check(v value.Value) (string, bool) {
	if isBlank(v) {
		return "can't be blank", false
	}
	return "", true
}

func isBlank(v value.Value) bool {
	switch val := v.(type) {
	case nil, value.Null:
		return true
	case value.String:
		return strings.TrimSpace(string(val)) == ""
	case value.Array:
		return len(val) == 0
	case value.Object:
		return len(val) == 0
	default:
		return false
	}
}

// Length bounds the character count of a string or the size of an array.
// Zero Min or Max means unbounded. Null values pass; combine with Presence.
type Length struct {
	FieldName string
	Min       int
	Max       int
}

func (r Length) Field() string { return r.FieldName }
func (r Length) Kind() string  { return "length" }

func (r Length) Check(v value.Value) (string, bool) {
	var n int
	switch val := v.(type) {
	case nil, value.Null:
		return "", true
	case value.String:
		n = utf8.RuneCountInString(string(val))
	case value.Array:
		n = len(val)
	default:
		return "is invalid", false
	}

	if r.Min > 0 && n < r.Min {
		return fmt.Sprintf("is too short (minimum is %d characters)", r.Min), false
	}
	if r.Max > 0 && n > r.Max {
		return fmt.Sprintf("is too long (maximum is %d characters)", r.Max), false
	}
	return "", true
}

// Format requires a string value matching Pattern. Null values pass.
type Format struct {
	FieldName string
	Pattern   *regexp.Regexp
}

func (r Format) Field() string { return r.FieldName }
func (r Format) Kind() string  { return "format" }

func (r Format) Check(v value.Value) (string, bool) {
	switch val := v.(type) {
	case nil, value.Null:
		return "", true
	case value.String:
		if r.Pattern != nil && r.Pattern.MatchString(string(val)) {
			return "", true
		}
	}
	return "is invalid", false
}

// Inclusion requires the value to equal one of In. Null values pass.
type Inclusion struct {
	FieldName string
	In        []value.Value
}

func (r Inclusion) Field() string { return r.FieldName }
func (r Inclusion) Kind() string  { return "inclusion" }

func (r Inclusion) Check(v value.Value) (string, bool) {
	if value.IsNull(v) {
		return "", true
	}
	for _, allowed := range r.In {
		if value.Equal(v, allowed) {
			return "", true
		}
	}
	return "is not included in the list", false
}

// Errors maps field names to validation messages.
type Errors map[string][]string

// Add appends a message for field.
func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// On returns the messages for field (nil when none).
func (e Errors) On(field string) []string {
	return e[field]
}

// Empty reports whether there are no messages.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Clone returns a deep copy.
func (e Errors) Clone() Errors {
	out := make(Errors, len(e))
	for k, msgs := range e {
		out[k] = slices.Clone(msgs)
	}
	return out
}

// FullMessages returns "Field message" strings sorted by field name,
// e.g. "Title can't be blank".
func (e Errors) FullMessages() []string {
	var out []string
	for _, field := range slices.Sorted(maps.Keys(e)) {
		for _, msg := range e[field] {
			out = append(out, humanize(field)+" "+msg)
		}
	}
	return out
}

// humanize turns "first_name" into "First name".
func humanize(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + s[size:]
}
