// Package value provides the typed attribute values stored on parsekit records.
//
// This package contains value types and their wire codec only. Every other
// internal package imports value; value imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: only the types declared here implement it
//   - Numbers are float64, matching the remote service (JSON numbers are doubles)
//   - Dates, geo points, files and pointers encode as "__type"-tagged objects
//   - Query strings are built with MarshalCanonical so equal criteria always
//     produce byte-identical output
package value
