// Package polyline encodes and decodes route geometries in the Google
// encoded polyline format returned by OSRM.
package polyline

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Precision is the number of decimal places carried by an encoding.
type Precision int

const (
	// Precision5 is the default of OSRM's geometries=polyline.
	Precision5 Precision = 5
	// Precision6 is OSRM's geometries=polyline6.
	Precision6 Precision = 6
)

// ErrTruncated is returned when an encoding ends in the middle of a value.
var ErrTruncated = errors.New("polyline: truncated input")

func (p Precision) factor() float64 {
	return math.Pow10(int(p))
}

// Decode decodes a precision 5 polyline. Points are [lng, lat].
func Decode(encoded string) (orb.LineString, error) {
	return DecodePrecision(encoded, Precision5)
}

// DecodePrecision decodes a polyline encoded at precision p.
func DecodePrecision(encoded string, p Precision) (orb.LineString, error) {
	if encoded == "" {
		return nil, nil
	}

	factor := p.factor()
	line := make(orb.LineString, 0, len(encoded)/4)
	var lat, lng int
	for i := 0; i < len(encoded); {
		dLat, next, ok := decodeValue(encoded, i)
		if !ok {
			return nil, ErrTruncated
		}
		dLng, next, ok := decodeValue(encoded, next)
		if !ok {
			return nil, ErrTruncated
		}
		i = next
		lat += dLat
		lng += dLng
		line = append(line, orb.Point{float64(lng) / factor, float64(lat) / factor})
	}
	return line, nil
}

// decodeValue reads one zig-zag varint starting at index.
func decodeValue(encoded string, index int) (value, next int, ok bool) {
	shift, result := 0, 0
	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), index, true
			}
			return result >> 1, index, true
		}
	}
	return 0, index, false
}

// Encode encodes line at precision 5.
func Encode(line orb.LineString) string {
	return EncodePrecision(line, Precision5)
}

// EncodePrecision encodes line at precision p.
func EncodePrecision(line orb.LineString, p Precision) string {
	if len(line) == 0 {
		return ""
	}

	factor := p.factor()
	buf := make([]byte, 0, len(line)*6)
	var prevLat, prevLng int
	for _, pt := range line {
		lat := int(math.Round(pt.Lat() * factor))
		lng := int(math.Round(pt.Lon() * factor))
		buf = encodeValue(buf, lat-prevLat)
		buf = encodeValue(buf, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return string(buf)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}
	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// Length returns the haversine length of line in meters.
func Length(line orb.LineString) float64 {
	if len(line) < 2 {
		return 0
	}
	return geo.LengthHaversine(line)
}
