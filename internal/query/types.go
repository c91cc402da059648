package query

import "github.com/roach88/parsekit/internal/value"

// Constraint is a filter on a single field.
//
// This is a sealed interface - only types in this package implement it.
type Constraint interface {
	constraintNode() // Marker method - seals interface to this package
}

// Equals matches rows whose field equals Value.
//
// Encodes as the bare value:
//
//	{"author": "Arrington"}
//	{"post": {"__type": "Pointer", "className": "Post", "objectId": "x1"}}
//
// Array fields match when any element equals Value.
type Equals struct {
	Value value.Value
}

func (Equals) constraintNode() {}

// Exists matches rows where the field is (Present) or is not set.
//
//	{"avatar": {"$exists": true}}
type Exists struct {
	Present bool
}

func (Exists) constraintNode() {}

// NearSphere matches rows whose GeoPoint field is near Point, ordered by
// distance (closest first). MaxDistance of zero means unbounded.
//
//	{"location": {"$nearSphere": {"__type": "GeoPoint", ...}, "$maxDistanceInMiles": 10}}
type NearSphere struct {
	Point       value.GeoPoint
	MaxDistance float64
	Unit        value.Unit
}

func (NearSphere) constraintNode() {}

// MaxRadians returns MaxDistance converted to radians.
func (n NearSphere) MaxRadians() float64 {
	return n.Unit.ToRadians(n.MaxDistance)
}

// WithinBox matches rows whose GeoPoint field lies in the box spanned by
// SouthWest and NorthEast.
//
//	{"location": {"$within": {"$box": [<southWest>, <northEast>]}}}
type WithinBox struct {
	SouthWest value.GeoPoint
	NorthEast value.GeoPoint
}

func (WithinBox) constraintNode() {}

// Wire operator names.
const (
	OpExists                  = "$exists"
	OpNearSphere              = "$nearSphere"
	OpMaxDistanceInRadians    = "$maxDistanceInRadians"
	OpMaxDistanceInMiles      = "$maxDistanceInMiles"
	OpMaxDistanceInKilometers = "$maxDistanceInKilometers"
	OpWithin                  = "$within"
	OpBox                     = "$box"
)

// maxDistanceOp returns the operator carrying a distance in unit u.
func maxDistanceOp(u value.Unit) string {
	switch u {
	case value.Miles:
		return OpMaxDistanceInMiles
	case value.Kilometers:
		return OpMaxDistanceInKilometers
	default:
		return OpMaxDistanceInRadians
	}
}
