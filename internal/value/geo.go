package value

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// Range errors returned by NewGeoPoint and GeoPoint.Validate.
var (
	ErrLatitudeRange  = errors.New("latitude must be within [-90, 90]")
	ErrLongitudeRange = errors.New("longitude must be within [-180, 180]")
)

// Mean earth radius used for distance conversions.
const (
	earthRadiusMiles      = 3958.8
	earthRadiusKilometers = 6371.0
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

func (GeoPoint) value() {}

// NewGeoPoint creates a GeoPoint, enforcing coordinate ranges.
func NewGeoPoint(latitude, longitude float64) (GeoPoint, error) {
	p := GeoPoint{Latitude: latitude, Longitude: longitude}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Validate reports whether p's coordinates are in range. Struct literals
// bypass NewGeoPoint, so anything that stores or sends a point checks here.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: got %v", ErrLatitudeRange, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: got %v", ErrLongitudeRange, p.Longitude)
	}
	return nil
}

// ValidateGeoPoints checks every GeoPoint in v, descending into arrays and
// objects. The error names the path of the first bad point.
func ValidateGeoPoints(v Value) error {
	switch v := v.(type) {
	case GeoPoint:
		return v.Validate()
	case Array:
		for i, elem := range v {
			if err := ValidateGeoPoints(elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	case Object:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			if err := ValidateGeoPoints(v[k]); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}
	return nil
}

// DistanceTo returns the great-circle distance to other in radians.
func (p GeoPoint) DistanceTo(other GeoPoint) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (other.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InBox reports whether p lies inside the box spanned by southWest and northEast.
func (p GeoPoint) InBox(southWest, northEast GeoPoint) bool {
	return p.Latitude >= southWest.Latitude && p.Latitude <= northEast.Latitude &&
		p.Longitude >= southWest.Longitude && p.Longitude <= northEast.Longitude
}

// Unit is a distance unit accepted by proximity queries.
type Unit int

const (
	Radians Unit = iota
	Miles
	Kilometers
)

// String returns the unit name used in CLI flags and scenario files.
func (u Unit) String() string {
	switch u {
	case Radians:
		return "radians"
	case Miles:
		return "miles"
	case Kilometers:
		return "kilometers"
	default:
		return fmt.Sprintf("Unit(%d)", int(u))
	}
}

// ParseUnit parses a unit name ("miles", "mi", "kilometers", "km", "radians").
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "radians", "rad", "":
		return Radians, nil
	case "miles", "mi":
		return Miles, nil
	case "kilometers", "km":
		return Kilometers, nil
	default:
		return 0, fmt.Errorf("unknown distance unit %q", s)
	}
}

// ToRadians converts a distance in u to radians.
func (u Unit) ToRadians(d float64) float64 {
	switch u {
	case Miles:
		return d / earthRadiusMiles
	case Kilometers:
		return d / earthRadiusKilometers
	default:
		return d
	}
}

// FromRadians converts a distance in radians to u.
func (u Unit) FromRadians(r float64) float64 {
	switch u {
	case Miles:
		return r * earthRadiusMiles
	case Kilometers:
		return r * earthRadiusKilometers
	default:
		return r
	}
}
