package orm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/schema"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	ErrUnknownField  = errors.New("unknown field")
	ErrReservedField = errors.New("field is assigned by the service")
	ErrUnknownClass  = errors.New("unknown class")
	ErrInvalid       = errors.New("record is invalid")
	ErrInvalidQuery  = errors.New("invalid query")
	ErrNotFound      = errors.New("object not found")
	ErrDestroyed     = errors.New("record is destroyed")
	ErrNotPersisted  = errors.New("record is not persisted")
)

// UnknownFieldError is returned for access to a field the model does not
// declare. It never involves the network.
type UnknownFieldError struct {
	ClassName string
	Field     string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field %q", e.ClassName, e.Field)
}

// Is matches ErrUnknownField.
func (e *UnknownFieldError) Is(target error) bool {
	return target == ErrUnknownField
}

// ValidationError is returned by Save when validation rules fail.
// No request is sent.
type ValidationError struct {
	ClassName string
	Errors    schema.Errors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is invalid: %s", e.ClassName, strings.Join(e.Errors.FullMessages(), ", "))
}

// Is matches ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// InvalidQueryError is returned by a terminal query operation whose
// criteria fail validation. No request is sent.
type InvalidQueryError struct {
	ClassName string
	Problems  []query.Problem
}

func (e *InvalidQueryError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%s: invalid query: %s", e.ClassName, strings.Join(parts, "; "))
}

// Is matches ErrInvalidQuery.
func (e *InvalidQueryError) Is(target error) bool {
	return target == ErrInvalidQuery
}

// NotFoundError is returned by Find and Reload when the object does not
// exist remotely. Err holds the remote error.
type NotFoundError struct {
	ClassName string
	ObjectID  string
	Err       error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: object not found", e.ClassName, e.ObjectID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Unwrap returns the remote error.
func (e *NotFoundError) Unwrap() error {
	return e.Err
}
