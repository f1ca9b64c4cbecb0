// Package geo provides distance and proximity helpers on WGS84 coordinates.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SeoulCenter is the fallback position used when a record cannot be located.
var SeoulCenter = Coordinate{Lat: 37.5665, Lng: 126.978}

// FromPoint converts an orb point ([lng, lat]) to a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lng: p.Lon()}
}

// Point returns the coordinate as an orb point.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// Valid reports whether both components are finite and within WGS84 bounds.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// IsNear reports whether any vertex of line lies within thresholdMeters of c.
// An empty line is always near: with no active route nothing is filtered out.
func IsNear(c Coordinate, line orb.LineString, thresholdMeters float64) bool {
	if len(line) == 0 {
		return true
	}
	for _, p := range line {
		if Distance(c, FromPoint(p)) <= thresholdMeters {
			return true
		}
	}
	return false
}
