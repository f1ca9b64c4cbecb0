// Package gazetteer maps Seoul area names to coordinates.
package gazetteer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/geo"
)

//go:embed crowd_areas.json
var defaultAreas []byte

// Area is a named location.
type Area struct {
	Name  string
	Coord geo.Coordinate
}

// Entry is one item of an area file. Coord is nil when the file lists the
// name without a position.
type Entry struct {
	Name  string
	Coord *geo.Coordinate
}

// AreaCoordMap is a process-lifetime name to coordinate memo. Entries are
// never replaced once written. Safe for concurrent use.
type AreaCoordMap struct {
	mu     sync.RWMutex
	coords map[string]geo.Coordinate
	order  []string
}

// NewAreaCoordMap returns an empty map.
func NewAreaCoordMap() *AreaCoordMap {
	return &AreaCoordMap{coords: make(map[string]geo.Coordinate)}
}

// Default returns a map seeded with the built-in hot spots.
func Default() *AreaCoordMap {
	m := NewAreaCoordMap()
	entries, err := ParseEntries(defaultAreas)
	if err != nil {
		panic(fmt.Sprintf("gazetteer: embedded area list: %v", err))
	}
	m.AddEntries(entries)
	return m
}

// Set records name at c unless the name is already known. It reports
// whether the entry was added.
func (m *AreaCoordMap) Set(name string, c geo.Coordinate) bool {
	name = strings.TrimSpace(name)
	if name == "" || !c.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.coords[name]; ok {
		return false
	}
	m.coords[name] = c
	m.order = append(m.order, name)
	return true
}

// AddEntries records every entry that carries coordinates.
func (m *AreaCoordMap) AddEntries(entries []Entry) int {
	added := 0
	for _, e := range entries {
		if e.Coord != nil && m.Set(e.Name, *e.Coord) {
			added++
		}
	}
	return added
}

// Exact returns the coordinates stored under name.
func (m *AreaCoordMap) Exact(name string) (geo.Coordinate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[name]
	return c, ok
}

// Partial returns the first known area, in insertion order, whose name
// contains name or is contained in it.
func (m *AreaCoordMap) Partial(name string) (string, geo.Coordinate, bool) {
	if name == "" {
		return "", geo.Coordinate{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.order {
		if strings.Contains(name, k) || strings.Contains(k, name) {
			return k, m.coords[k], true
		}
	}
	return "", geo.Coordinate{}, false
}

// Areas returns a snapshot of all entries in insertion order.
func (m *AreaCoordMap) Areas() []Area {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Area, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, Area{Name: name, Coord: m.coords[name]})
	}
	return out
}

// Len returns the number of known areas.
func (m *AreaCoordMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// LoadFile reads an area file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading area file: %w", err)
	}
	entries, err := ParseEntries(data)
	if err != nil {
		return nil, fmt.Errorf("parsing area file %s: %w", path, err)
	}
	return entries, nil
}

// ParseEntries decodes a JSON array of area names or of objects carrying
// AREA_NM|areaNm|name and optional lat/lng.
func ParseEntries(data []byte) ([]Entry, error) {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if name := strings.TrimSpace(v); name != "" {
				entries = append(entries, Entry{Name: name})
			}
		case map[string]any:
			rec := feed.Record(v)
			name, ok := rec.String("AREA_NM", "areaNm", "name")
			if !ok {
				continue
			}
			e := Entry{Name: name}
			lat, okLat := rec.Number("lat")
			lng, okLng := rec.Number("lng")
			if okLat && okLng && lat != 0 && lng != 0 {
				e.Coord = &geo.Coordinate{Lat: lat, Lng: lng}
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Names returns the entry names in file order.
func Names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
