package safety

import (
	"context"
	"errors"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/safeway/safeway/internal/hazard"
)

// MaxZoom is the deepest tile zoom served.
const MaxZoom = 22

// ErrInvalidTile is returned for tile coordinates outside the zoom's range.
var ErrInvalidTile = errors.New("invalid tile coordinates")

// TileCoord addresses a slippy map tile.
type TileCoord struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// RiskTile is a GeoJSON FeatureCollection of hazards for one tile.
type RiskTile struct {
	Tile     TileCoord          `json:"tile"`
	Stale    bool               `json:"stale"`
	Type     string             `json:"type"`
	Features []*geojson.Feature `json:"features"`
}

// RiskTile returns every current hazard as GeoJSON. Features are not
// clipped to the tile.
func (s *Service) RiskTile(ctx context.Context, tc TileCoord) (RiskTile, error) {
	if tc.Z < 0 || tc.Z > MaxZoom || tc.X < 0 || tc.Y < 0 {
		return RiskTile{}, ErrInvalidTile
	}
	if !maptile.New(uint32(tc.X), uint32(tc.Y), maptile.Zoom(tc.Z)).Valid() {
		return RiskTile{}, ErrInvalidTile
	}

	h, err := s.All(ctx, IncidentQuery{}, nil)
	if err != nil {
		return RiskTile{}, err
	}

	fc := geojson.NewFeatureCollection()
	for i := range h.Items {
		fc.Append(ToGeoJSON(&h.Items[i]))
	}
	return RiskTile{Tile: tc, Stale: h.Stale, Type: fc.Type, Features: fc.Features}, nil
}

// ToGeoJSON converts a scored feature to a GeoJSON point feature.
func ToGeoJSON(f *hazard.Feature) *geojson.Feature {
	gf := geojson.NewFeature(f.Coords.Point())
	gf.ID = f.ID
	gf.Properties = geojson.Properties{
		"type":        string(f.Type),
		"source":      string(f.Source),
		"risk":        f.Risk.Risk,
		"level":       string(f.Risk.Level),
		"description": f.Description,
	}
	return gf
}
