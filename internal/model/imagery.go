package model

import (
	"time"

	"github.com/twpayne/go-geom"
)

// ImageryTile is one raster tile returned by the imagery provider for a
// DisasterRecord's location. Multiple tiles may exist per record (time
// series).
type ImageryTile struct {
	RecordID        string       `json:"record_id"`
	TileID          string       `json:"tile_id"`
	BoundingBox     *geom.Bounds `json:"-"`
	BBox            [4]float64   `json:"bounding_box"` // minLon, minLat, maxLon, maxLat
	AcquisitionDate time.Time    `json:"acquisition_date"`
	Raster          []byte       `json:"-"`
	Width           int          `json:"width"`
	Height          int          `json:"height"`
	Bands           int          `json:"bands"`
	CloudCover      float64      `json:"cloud_cover,omitempty"`
	PatchCount      int          `json:"patch_count,omitempty"`
}

// SetBounds fills both the geom bounds and the serializable bbox array.
func (t *ImageryTile) SetBounds(b *geom.Bounds) {
	t.BoundingBox = b
	if b != nil {
		t.BBox = [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
	}
}

// AOIBounds builds a square area of interest around a point, expanding
// by bufferDeg degrees in each direction.
func AOIBounds(lon, lat, bufferDeg float64) *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	b.Set(lon-bufferDeg, lat-bufferDeg, lon+bufferDeg, lat+bufferDeg)
	return b
}
