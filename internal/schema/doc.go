// Package schema provides static per-model definitions for parsekit.
//
// A Model names the remote class, the closed set of fields an instance may
// carry, and the validation rules run before any save. Models are built once
// at startup, either in Go with NewModel or from CUE files with LoadDir, and
// collected into a Registry that the orm client consumes.
//
// Definitions are checked at registration time:
//   - class names are non-empty and unique within a Registry
//   - field names are unique and never reserved (objectId, createdAt, ...)
//   - every rule refers to a declared field
//
// Validation is pure: Model.Validate reads attribute values through a getter
// and never performs I/O.
package schema
