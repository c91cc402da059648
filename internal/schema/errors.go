package schema

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Definition error codes (S100-S199)
const (
	ErrCodeClassName      = "S101" // class name is required
	ErrCodeFieldName      = "S102" // field name is required
	ErrCodeReservedField  = "S103" // field name is reserved
	ErrCodeFieldType      = "S104" // unknown field type
	ErrCodeDuplicateField = "S105" // duplicate field name
	ErrCodeRuleField      = "S106" // rule refers to undeclared field
	ErrCodeDuplicateClass = "S107" // class registered twice
	ErrCodeRule           = "S108" // malformed rule (bad pattern, min > max)
	ErrCodeCUE            = "S110" // CUE load/build failure
)

// DefinitionError represents an invalid model definition.
// Pos is set when the definition came from a CUE file.
type DefinitionError struct {
	Class   string
	Field   string
	Message string
	Code    string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	prefix := ""
	if e.Pos.IsValid() {
		prefix = fmt.Sprintf("%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Class != "" {
		return fmt.Sprintf("%s[%s] %s.%s: %s", prefix, e.Code, e.Class, e.Field, e.Message)
	}
	return fmt.Sprintf("%s[%s] %s: %s", prefix, e.Code, e.Field, e.Message)
}
