// Package geo holds the spherical-earth helpers used for proximity matching.
package geo

import "math"

// Earth radius used by Haversine. It matches the radius Redis and Valkey use
// for GEO queries so in-process distances agree with store-side filters.
const (
	EarthRadiusMeters = 6_372_797.560856
	MetersPerMile     = 1_609.344
	EarthRadiusMiles  = EarthRadiusMeters / MetersPerMile
)

// Unit is a distance unit accepted by radius queries.
type Unit string

// Supported units. The string values match the Redis GEO radius units.
const (
	Miles      Unit = "mi"
	Kilometers Unit = "km"
	Meters     Unit = "m"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the lat/lng domain.
func (p Point) Valid() bool {
	return ValidateCoordinates(p.Lat, p.Lng)
}

// Haversine returns the great-circle distance in meters between two points
// specified by latitude and longitude in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return EarthRadiusMeters * centralAngle(lat1, lon1, lat2, lon2)
}

// HaversineMiles is Haversine expressed in statute miles.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return EarthRadiusMiles * centralAngle(lat1, lon1, lat2, lon2)
}

// Distance returns the distance between a and b in the given unit.
func Distance(a, b Point, unit Unit) float64 {
	angle := centralAngle(a.Lat, a.Lng, b.Lat, b.Lng)
	switch unit {
	case Kilometers:
		return EarthRadiusMeters / 1000 * angle
	case Meters:
		return EarthRadiusMeters * angle
	default:
		return EarthRadiusMiles * angle
	}
}

func centralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Proximity maps a distance inside radius onto [0,1]: 1 at the origin,
// 0 at the boundary and beyond. The mapping is linear.
func Proximity(distance, radius float64) float64 {
	if radius <= 0 || distance >= radius {
		return 0
	}
	if distance <= 0 {
		return 1
	}
	return 1 - distance/radius
}

// ValidateCoordinates checks that latitude is in [-90,90] and longitude in [-180,180].
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
