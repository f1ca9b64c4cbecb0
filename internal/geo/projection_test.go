package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromKoreaCentralBelt(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		want Coordinate
	}{
		{"grid origin", 200000, 500000, Coordinate{Lat: 38, Lng: 127}},
		{"seoul city hall", 198056.367, 451885.031, Coordinate{Lat: 37.5665, Lng: 126.978}},
		{"gangnam station", 202442.378, 444275.849, Coordinate{Lat: 37.49794, Lng: 127.02762}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromKoreaCentralBelt(tt.x, tt.y)
			assert.InDelta(t, tt.want.Lat, got.Lat, 1e-6)
			assert.InDelta(t, tt.want.Lng, got.Lng, 1e-6)
		})
	}
}
