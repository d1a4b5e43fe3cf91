// Package geo computes great-circle distances between coordinates.
package geo

import (
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Unknown is the sentinel distance for a pair of points where one side has
// no location. It compares greater than every real distance.
var Unknown = math.Inf(1)

// Location is a point in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// Valid reports whether the location is finite and inside the usual
// latitude/longitude ranges.
func (l Location) Valid() bool {
	if !finite(l.Latitude) || !finite(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// DistanceKm returns the haversine distance in kilometers between two points
// given in degrees. Non-finite input yields Unknown rather than NaN.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if !finite(lat1) || !finite(lng1) || !finite(lat2) || !finite(lng2) {
		return Unknown
	}
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLng*sinLng
	// rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Parse reads a location from text coordinates, typically query parameters.
// It returns nil unless both parse and the result is Valid.
func Parse(lat, lng string) *Location {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return nil
	}
	loc := &Location{Latitude: la, Longitude: lo}
	if !loc.Valid() {
		return nil
	}
	return loc
}

// Between is DistanceKm for optional locations; a nil side yields Unknown.
func Between(a, b *Location) float64 {
	if a == nil || b == nil {
		return Unknown
	}
	return DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// IsUnknown reports whether d is the Unknown sentinel.
func IsUnknown(d float64) bool {
	return math.IsInf(d, 1)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
