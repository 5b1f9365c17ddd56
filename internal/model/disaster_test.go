package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestLocation_Resolved(t *testing.T) {
	assert.False(t, Location{Name: "Valencia"}.Resolved())
	assert.False(t, Location{Name: "Valencia", Latitude: ptr(39.47)}.Resolved())
	assert.True(t, Location{Name: "Valencia", Latitude: ptr(39.47), Longitude: ptr(-0.38)}.Resolved())
}

func TestDisasterRecord_PrimaryLocation(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := DisasterRecord{}.PrimaryLocation()
		assert.False(t, ok)
	})

	t.Run("prefers resolved", func(t *testing.T) {
		rec := DisasterRecord{Locations: []Location{
			{Name: "somewhere"},
			{Name: "Valencia", Latitude: ptr(39.47), Longitude: ptr(-0.38)},
		}}
		loc, ok := rec.PrimaryLocation()
		require.True(t, ok)
		assert.Equal(t, "Valencia", loc.Name)
	})

	t.Run("falls back to first", func(t *testing.T) {
		rec := DisasterRecord{Locations: []Location{
			{Name: "first"},
			{Name: "second"},
		}}
		loc, ok := rec.PrimaryLocation()
		require.True(t, ok)
		assert.Equal(t, "first", loc.Name)
	})
}

func TestAOIBounds(t *testing.T) {
	b := AOIBounds(10, 50, 0.25)
	assert.InDelta(t, 9.75, b.Min(0), 1e-9)
	assert.InDelta(t, 49.75, b.Min(1), 1e-9)
	assert.InDelta(t, 10.25, b.Max(0), 1e-9)
	assert.InDelta(t, 50.25, b.Max(1), 1e-9)
}

func TestImageryTile_SetBounds(t *testing.T) {
	var tile ImageryTile
	tile.SetBounds(AOIBounds(10, 50, 0.5))
	assert.Equal(t, [4]float64{9.5, 49.5, 10.5, 50.5}, tile.BBox)

	tile.SetBounds(nil)
	assert.Nil(t, tile.BoundingBox)
}
