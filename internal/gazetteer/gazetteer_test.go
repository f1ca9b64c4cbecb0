package gazetteer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeway/safeway/internal/geo"
)

type mockGeocoder struct {
	coord     geo.Coordinate
	found     bool
	err       error
	callCount atomic.Int32
}

func (m *mockGeocoder) Geocode(_ context.Context, _ string) (geo.Coordinate, bool, error) {
	m.callCount.Add(1)
	return m.coord, m.found, m.err
}

func TestDefault_SeedsHotSpots(t *testing.T) {
	m := Default()

	assert.Equal(t, 7, m.Len())
	c, ok := m.Exact("강남역")
	require.True(t, ok)
	assert.Equal(t, geo.Coordinate{Lat: 37.49794, Lng: 127.02762}, c)
}

func TestAreaCoordMap_SetNeverOverwrites(t *testing.T) {
	m := NewAreaCoordMap()

	assert.True(t, m.Set("명동", geo.Coordinate{Lat: 37.56357, Lng: 126.98265}))
	assert.False(t, m.Set("명동", geo.Coordinate{Lat: 1, Lng: 1}))
	assert.False(t, m.Set("", geo.SeoulCenter))
	assert.False(t, m.Set("nowhere", geo.Coordinate{Lat: 200, Lng: 0}))

	c, _ := m.Exact("명동")
	assert.Equal(t, 37.56357, c.Lat)
}

func TestAreaCoordMap_Partial(t *testing.T) {
	m := Default()

	name, c, ok := m.Partial("강남역 MICE 관광특구")
	require.True(t, ok)
	assert.Equal(t, "강남역", name)
	assert.Equal(t, 127.02762, c.Lng)

	name, _, ok = m.Partial("홍대")
	require.True(t, ok)
	assert.Equal(t, "홍대입구", name)

	_, _, ok = m.Partial("부산역")
	assert.False(t, ok)
}

func TestParseEntries(t *testing.T) {
	entries, err := ParseEntries([]byte(`[
		"서울역",
		{"AREA_NM": "이태원", "lat": "37.5345", "lng": "126.9946"},
		{"areaNm": "성수"},
		{"name": "북촌", "lat": 37.5826, "lng": 126.9836},
		{"other": "ignored"}
	]`))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, []string{"서울역", "이태원", "성수", "북촌"}, Names(entries))
	assert.Nil(t, entries[0].Coord)
	require.NotNil(t, entries[1].Coord)
	assert.Equal(t, 37.5345, entries[1].Coord.Lat)
	assert.Nil(t, entries[2].Coord)

	m := NewAreaCoordMap()
	assert.Equal(t, 2, m.AddEntries(entries))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "areas.json")
	require.NoError(t, os.WriteFile(path, []byte(`["광화문", "잠실"]`), 0o600))

	entries, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"광화문", "잠실"}, Names(entries))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestResolver_Order(t *testing.T) {
	gc := &mockGeocoder{coord: geo.Coordinate{Lat: 37.5547, Lng: 126.9706}, found: true}
	r := NewResolver(ResolverConfig{Geocoder: gc, Logger: zerolog.Nop()})
	ctx := context.Background()

	assert.Equal(t, geo.Coordinate{Lat: 37.51327, Lng: 127.1025}, r.Resolve(ctx, "잠실"))
	assert.Equal(t, geo.Coordinate{Lat: 37.51327, Lng: 127.1025}, r.Resolve(ctx, "잠실 관광특구"))
	assert.Zero(t, gc.callCount.Load())

	assert.Equal(t, gc.coord, r.Resolve(ctx, "서울역"))
	assert.Equal(t, gc.coord, r.Resolve(ctx, "서울역"))
	assert.Equal(t, int32(1), gc.callCount.Load(), "geocode hits are memoised")

	c, ok := r.Areas().Exact("서울역")
	require.True(t, ok)
	assert.Equal(t, gc.coord, c)
}

func TestResolver_Fallback(t *testing.T) {
	ctx := context.Background()

	failing := &mockGeocoder{err: errors.New("boom")}
	r := NewResolver(ResolverConfig{Areas: NewAreaCoordMap(), Geocoder: failing, Logger: zerolog.Nop()})
	assert.Equal(t, geo.SeoulCenter, r.Resolve(ctx, "어딘가"))
	assert.Equal(t, geo.SeoulCenter, r.Resolve(ctx, "어딘가"))
	assert.Equal(t, int32(2), failing.callCount.Load(), "failures are not memoised")

	empty := &mockGeocoder{}
	r = NewResolver(ResolverConfig{Areas: NewAreaCoordMap(), Geocoder: empty, Logger: zerolog.Nop()})
	assert.Equal(t, geo.SeoulCenter, r.Resolve(ctx, "어딘가"))
	assert.Equal(t, geo.SeoulCenter, r.Resolve(ctx, ""))
	assert.Equal(t, int32(1), empty.callCount.Load())

	r = NewResolver(ResolverConfig{Areas: NewAreaCoordMap(), Logger: zerolog.Nop()})
	assert.Equal(t, geo.SeoulCenter, r.Resolve(ctx, "어딘가"))
}

func TestResolver_ConcurrentAccess(t *testing.T) {
	gc := &mockGeocoder{coord: geo.Coordinate{Lat: 37.5, Lng: 127.0}, found: true}
	r := NewResolver(ResolverConfig{Areas: NewAreaCoordMap(), Geocoder: gc, Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, gc.coord, r.Resolve(context.Background(), "성수동"))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, gc.callCount.Load(), int32(20))
	assert.Equal(t, 1, r.Areas().Len())
}
