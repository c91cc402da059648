// Package query provides the immutable criteria value behind the query
// builder, and its wire encoding.
//
// A Criteria accumulates constraints, ordering, pagination and projection
// for one class. Every method returns a new Criteria; the receiver is never
// modified and no maps or slices are shared between values. Nothing in this
// package performs I/O: the orm package turns Criteria into a request.
//
// CONSTRAINTS:
//
// Constraint is a sealed interface using the marker method pattern. Only
// types in this package implement it, so encoders and the local emulator
// can switch over it exhaustively:
//
//	switch c := constraint.(type) {
//	case Equals:
//	case Exists:
//	case NearSphere:
//	case WithinBox:
//	}
//
// Constraints are keyed by field. Setting a second constraint on the same
// field replaces the first; constraints on different fields conjoin. There
// is no OR and there are no inequality operators.
//
// WIRE FORMAT:
//
// Encode produces the query parameters the REST service understands:
//
//	where={"author":"Arrington","location":{"$nearSphere":{...},"$maxDistanceInMiles":10}}
//	order=-createdAt,title
//	limit=10&skip=20
//	count=1&limit=0
//	include=author&keys=title,body
//
// The where parameter is canonical JSON (sorted keys, NFC strings), so
// equivalent criteria built in any order encode to identical bytes.
package query
