// Package geo provides the distance math used to gate credential capture to
// physical proximity. Functions are pure; callers guard against NaN input.
package geo

import "math"

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Boundary is a circular geofence. Static configuration; never mutated at
// runtime.
type Boundary struct {
	Name         string  `json:"name"`
	Center       Point   `json:"center"`
	RadiusMeters float64 `json:"radius_meters"`
}

// radians converts degrees to radians.
func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formulation.
func DistanceMeters(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Distance returns the distance in meters from p to the boundary center.
func (b Boundary) Distance(p Point) float64 {
	return DistanceMeters(p, b.Center)
}

// Contains reports whether p falls within the boundary radius.
func (b Boundary) Contains(p Point) bool {
	return b.Distance(p) <= b.RadiusMeters
}
