package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/parsekit/internal/value"
)

// FieldType is the declared type of a field. It drives decoding of CLI and
// scenario input; the attribute store itself accepts any value.
type FieldType string

const (
	TypeAny      FieldType = "any"
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeGeoPoint FieldType = "geopoint"
	TypeFile     FieldType = "file"
	TypePointer  FieldType = "pointer"
	TypeArray    FieldType = "array"
	TypeObject   FieldType = "object"
)

// ValidFieldTypes defines allowed field types.
var ValidFieldTypes = map[FieldType]bool{
	TypeAny:      true,
	TypeString:   true,
	TypeNumber:   true,
	TypeBoolean:  true,
	TypeDate:     true,
	TypeGeoPoint: true,
	TypeFile:     true,
	TypePointer:  true,
	TypeArray:    true,
	TypeObject:   true,
}

// Remote-assigned field names.
const (
	FieldObjectID  = "objectId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// ReservedFields may never be declared. The first three are assigned by the
// remote service and are readable on every record.
var ReservedFields = map[string]bool{
	FieldObjectID:     true,
	FieldCreatedAt:    true,
	FieldUpdatedAt:    true,
	"id":              true,
	"ACL":             true,
	FieldSessionToken: true,
}

// IsRemoteAssigned reports whether name is objectId, createdAt or updatedAt.
func IsRemoteAssigned(name string) bool {
	return name == FieldObjectID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// Field is a declared model field.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Fields declares untyped (TypeAny) fields.
func Fields(names ...string) []Field {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Type: TypeAny}
	}
	return fields
}

// Model is the static definition of a remote-backed record type. It is
// immutable once built; Fields and Rules return copies.
type Model struct {
	ClassName string

	fields []Field
	rules  []Rule
	index  map[string]Field
}

// NewModel builds and checks a model definition.
// Returns a *DefinitionError describing the first problem found.
func NewModel(className string, fields []Field, rules ...Rule) (*Model, error) {
	m := &Model{
		ClassName: className,
		fields:    slices.Clone(fields),
		rules:     slices.Clone(rules),
	}
	if errs := m.check(); len(errs) > 0 {
		return nil, errs[0]
	}
	return m, nil
}

// MustModel is like NewModel but panics on error.
// Intended for package-level model declarations.
func MustModel(className string, fields []Field, rules ...Rule) *Model {
	m, err := NewModel(className, fields, rules...)
	if err != nil {
		panic(err)
	}
	return m
}

// check validates the definition and builds the field index.
// Returns all errors found (does not fail-fast).
func (m *Model) check() []*DefinitionError {
	var errs []*DefinitionError

	if strings.TrimSpace(m.ClassName) == "" {
		errs = append(errs, &DefinitionError{
			Class:   m.ClassName,
			Field:   "class",
			Message: "class name is required",
			Code:    ErrCodeClassName,
		})
	}

	m.index = make(map[string]Field, len(m.fields))
	for i := range m.fields {
		f := &m.fields[i]
		if f.Type == "" {
			f.Type = TypeAny
		}

		switch {
		case strings.TrimSpace(f.Name) == "":
			errs = append(errs, &DefinitionError{
				Class:   m.ClassName,
				Field:   fmt.Sprintf("fields[%d]", i),
				Message: "field name is required",
				Code:    ErrCodeFieldName,
			})
			continue
		case ReservedFields[f.Name]:
			errs = append(errs, &DefinitionError{
				Class:   m.ClassName,
				Field:   f.Name,
				Message: "field name is reserved",
				Code:    ErrCodeReservedField,
			})
			continue
		case !ValidFieldTypes[f.Type]:
			errs = append(errs, &DefinitionError{
				Class:   m.ClassName,
				Field:   f.Name,
				Message: fmt.Sprintf("unknown field type %q", f.Type),
				Code:    ErrCodeFieldType,
			})
			continue
		}

		if _, dup := m.index[f.Name]; dup {
			errs = append(errs, &DefinitionError{
				Class:   m.ClassName,
				Field:   f.Name,
				Message: "duplicate field name",
				Code:    ErrCodeDuplicateField,
			})
			continue
		}
		m.index[f.Name] = *f
	}

	for _, r := range m.rules {
		if _, ok := m.index[r.Field()]; !ok {
			errs = append(errs, &DefinitionError{
				Class:   m.ClassName,
				Field:   r.Field(),
				Message: fmt.Sprintf("%s rule refers to undeclared field", r.Kind()),
				Code:    ErrCodeRuleField,
			})
			continue
		}
		if msg := ruleProblem(r); msg != "" {
			errs = append(errs, &DefinitionError{
				Class:   m.ClassName,
				Field:   r.Field(),
				Message: msg,
				Code:    ErrCodeRule,
			})
		}
	}

	return errs
}

// ruleProblem describes a malformed rule, or returns "".
func ruleProblem(r Rule) string {
	switch rule := r.(type) {
	case Length:
		if rule.Min < 0 || rule.Max < 0 {
			return "length bounds must not be negative"
		}
		if rule.Max > 0 && rule.Min > rule.Max {
			return fmt.Sprintf("length min %d exceeds max %d", rule.Min, rule.Max)
		}
	case Format:
		if rule.Pattern == nil {
			return "format rule has no pattern"
		}
	case Inclusion:
		if len(rule.In) == 0 {
			return "inclusion rule has no allowed values"
		}
	}
	return ""
}

// Field returns the declared field with the given name.
func (m *Model) Field(name string) (Field, bool) {
	f, ok := m.index[name]
	return f, ok
}

// HasField reports whether name is declared on the model.
func (m *Model) HasField(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Readable reports whether name can be read from a record: a declared field
// or one of the remote-assigned fields.
func (m *Model) Readable(name string) bool {
	return m.HasField(name) || IsRemoteAssigned(name)
}

// Fields returns the declared fields in declaration order.
func (m *Model) Fields() []Field {
	return slices.Clone(m.fields)
}

// Rules returns the validation rules in declaration order.
func (m *Model) Rules() []Rule {
	return slices.Clone(m.rules)
}

// FieldNames returns declared field names in declaration order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.fields))
	for i, f := range m.fields {
		names[i] = f.Name
	}
	return names
}

// IsUser reports whether this is the user class.
func (m *Model) IsUser() bool {
	return m.ClassName == UserClassName
}

// WriteOnly reports whether a field is sent to the service but never read back.
func (m *Model) WriteOnly(name string) bool {
	return m.IsUser() && name == FieldPassword
}

// Validate runs every rule against the values returned by get.
// Returns a fresh Errors value; empty means valid.
func (m *Model) Validate(get func(field string) value.Value) Errors {
	errs := Errors{}
	for _, r := range m.rules {
		if msg, ok := r.Check(get(r.Field())); !ok {
			errs.Add(r.Field(), msg)
		}
	}
	return errs
}
