package orm

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/value"
)

// State is a record's position in its persistence lifecycle:
//
//	New -> Saving -> Persisted -> Destroying -> Destroyed
//
// Saving returns to the previous state when the request fails, and likewise
// Destroying.
type State int

const (
	StateNew State = iota
	StateSaving
	StatePersisted
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSaving:
		return "saving"
	case StatePersisted:
		return "persisted"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Record is one instance of a model. It owns its attributes, dirty set and
// validation errors exclusively.
//
// A Record is not safe for concurrent use.
type Record struct {
	client *Client
	model  *schema.Model

	attrs map[string]value.Value
	dirty map[string]bool

	objectID  string
	createdAt time.Time
	updatedAt time.Time

	state        State
	errors       schema.Errors
	lastErr      error
	sessionToken string
}

func newRecord(c *Client, m *schema.Model) *Record {
	return &Record{
		client: c,
		model:  m,
		attrs:  make(map[string]value.Value),
		dirty:  make(map[string]bool),
		errors: schema.Errors{},
	}
}

// ClassName returns the record's class.
func (r *Record) ClassName() string { return r.model.ClassName }

// Model returns the record's model definition.
func (r *Record) Model() *schema.Model { return r.model }

// ID returns the remote object id, empty until the first save.
func (r *Record) ID() string { return r.objectID }

// CreatedAt returns the remote creation time, zero until the first save.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the remote update time, zero until the first save.
func (r *Record) UpdatedAt() time.Time { return r.updatedAt }

// State returns the lifecycle state.
func (r *Record) State() State { return r.state }

// IsNew reports whether the record has never been saved.
func (r *Record) IsNew() bool { return r.state == StateNew }

// IsPersisted reports whether the record exists remotely.
func (r *Record) IsPersisted() bool { return r.state == StatePersisted }

// IsDestroyed reports whether the record was destroyed.
func (r *Record) IsDestroyed() bool { return r.state == StateDestroyed }

// SessionToken returns the session token issued at signup or login.
func (r *Record) SessionToken() string { return r.sessionToken }

// LastError returns the error of the last failed remote operation, or nil
// once an operation succeeds.
func (r *Record) LastError() error { return r.lastErr }

// Get returns the value of a declared or remote-assigned field, or
// value.Null{} when unset.
func (r *Record) Get(name string) (value.Value, error) {
	if !r.model.Readable(name) {
		return nil, &UnknownFieldError{ClassName: r.model.ClassName, Field: name}
	}

	switch name {
	case schema.FieldObjectID:
		if r.objectID == "" {
			return value.Null{}, nil
		}
		return value.String(r.objectID), nil
	case schema.FieldCreatedAt:
		return timeValue(r.createdAt), nil
	case schema.FieldUpdatedAt:
		return timeValue(r.updatedAt), nil
	}

	if v, ok := r.attrs[name]; ok {
		return v, nil
	}
	return value.Null{}, nil
}

func timeValue(t time.Time) value.Value {
	if t.IsZero() {
		return value.Null{}
	}
	return value.NewDate(t)
}

// valueOf is Get for callers that already checked the field.
func (r *Record) valueOf(name string) value.Value {
	v, err := r.Get(name)
	if err != nil {
		return value.Null{}
	}
	return v
}

// Set records v for a declared field and marks it dirty. nil is stored as
// value.Null{}. Remote-assigned fields cannot be set.
func (r *Record) Set(name string, v value.Value) error {
	if schema.IsRemoteAssigned(name) || schema.ReservedFields[name] {
		return fmt.Errorf("%w: %s", ErrReservedField, name)
	}
	if !r.model.HasField(name) {
		return &UnknownFieldError{ClassName: r.model.ClassName, Field: name}
	}
	if r.state == StateDestroyed {
		return ErrDestroyed
	}

	if v == nil {
		v = value.Null{}
	}
	if err := value.ValidateGeoPoints(v); err != nil {
		return fmt.Errorf("%s.%s: %w", r.model.ClassName, name, err)
	}
	r.attrs[name] = v
	r.dirty[name] = true
	return nil
}

// Assign sets several fields from plain Go values (see value.Of). It stops
// at the first error; fields set before it stay set.
func (r *Record) Assign(fields map[string]any) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		v, err := value.Of(fields[name])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", r.model.ClassName, name, err)
		}
		if err := r.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Raw returns a copy of the attribute mapping: every declared field that has
// been set or loaded.
func (r *Record) Raw() map[string]value.Value {
	return maps.Clone(r.attrs)
}

// Object returns the attributes plus the remote-assigned fields, as sent by
// the service. Write-only fields are omitted.
func (r *Record) Object() value.Object {
	obj := make(value.Object, len(r.attrs)+3)
	for k, v := range r.attrs {
		if !r.model.WriteOnly(k) {
			obj[k] = v
		}
	}
	if r.objectID != "" {
		obj[schema.FieldObjectID] = value.String(r.objectID)
	}
	if !r.createdAt.IsZero() {
		obj[schema.FieldCreatedAt] = value.NewDate(r.createdAt)
	}
	if !r.updatedAt.IsZero() {
		obj[schema.FieldUpdatedAt] = value.NewDate(r.updatedAt)
	}
	return obj
}

// Dirty returns the names of changed fields, sorted.
func (r *Record) Dirty() []string {
	return slices.Sorted(maps.Keys(r.dirty))
}

// IsDirty reports whether any field changed since the last load or save.
func (r *Record) IsDirty() bool {
	return len(r.dirty) > 0
}

// Changed reports whether name changed since the last load or save.
func (r *Record) Changed(name string) bool {
	return r.dirty[name]
}

// Valid runs the model's validation rules, replacing the previous errors.
// It performs no I/O.
func (r *Record) Valid() bool {
	r.errors = r.model.Validate(r.valueOf)
	if r.model.IsUser() && r.state == StateNew {
		if msg, ok := (schema.Presence{FieldName: schema.FieldPassword}).Check(r.valueOf(schema.FieldPassword)); !ok {
			r.errors.Add(schema.FieldPassword, msg)
		}
	}
	return r.errors.Empty()
}

// Errors returns a copy of the errors from the last Valid or Save call.
func (r *Record) Errors() schema.Errors {
	return r.errors.Clone()
}

// load replaces the record's contents with a service representation and
// marks it persisted and clean. Unknown and write-only keys are ignored.
// Nothing changes if obj is malformed.
func (r *Record) load(obj value.Object) error {
	rf, err := r.parseRemote(obj)
	if err != nil {
		return err
	}
	if rf.objectID == "" {
		return fmt.Errorf("%s: response has no objectId", r.model.ClassName)
	}

	r.assignRemote(rf)
	r.attrs = make(map[string]value.Value, len(obj))
	for k, v := range obj {
		if r.model.HasField(k) && !r.model.WriteOnly(k) {
			r.attrs[k] = v
		}
	}
	r.dirty = make(map[string]bool)
	r.errors = schema.Errors{}
	r.state = StatePersisted
	r.lastErr = nil
	return nil
}

// remoteFields are the server-assigned fields of a record.
type remoteFields struct {
	objectID     string
	createdAt    time.Time
	updatedAt    time.Time
	sessionToken string
}

// parseRemote overlays objectId, createdAt, updatedAt and sessionToken from
// obj onto the record's current values without modifying the record. The
// service sends timestamps as plain ISO strings.
func (r *Record) parseRemote(obj value.Object) (remoteFields, error) {
	rf := remoteFields{
		objectID:     r.objectID,
		createdAt:    r.createdAt,
		updatedAt:    r.updatedAt,
		sessionToken: r.sessionToken,
	}
	if id, ok := obj[schema.FieldObjectID].(value.String); ok && id != "" {
		rf.objectID = string(id)
	}
	for _, field := range []string{schema.FieldCreatedAt, schema.FieldUpdatedAt} {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		t, err := remoteTime(raw)
		if err != nil {
			return remoteFields{}, fmt.Errorf("%s.%s: %w", r.model.ClassName, field, err)
		}
		if field == schema.FieldCreatedAt {
			rf.createdAt = t
		} else {
			rf.updatedAt = t
		}
	}
	if token, ok := obj[schema.FieldSessionToken].(value.String); ok && token != "" {
		rf.sessionToken = string(token)
	}
	return rf, nil
}

func (r *Record) assignRemote(rf remoteFields) {
	r.objectID = rf.objectID
	r.createdAt = rf.createdAt
	r.updatedAt = rf.updatedAt
	r.sessionToken = rf.sessionToken
}

func remoteTime(v value.Value) (time.Time, error) {
	switch t := v.(type) {
	case value.Date:
		return t.Time(), nil
	case value.String:
		d, err := value.ParseDate(string(t))
		if err != nil {
			return time.Time{}, err
		}
		return d.Time(), nil
	default:
		return time.Time{}, fmt.Errorf("expected date, got %s", value.TypeName(v))
	}
}

// clear drops every attribute and remote field.
func (r *Record) clear() {
	r.attrs = make(map[string]value.Value)
	r.dirty = make(map[string]bool)
	r.objectID = ""
	r.createdAt = time.Time{}
	r.updatedAt = time.Time{}
	r.sessionToken = ""
}
