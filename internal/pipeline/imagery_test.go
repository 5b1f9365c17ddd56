package pipeline

import (
	"bytes"
	"context"
	"image"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/pkg/geocode"
	"github.com/terrawatch/eo-analyzer/pkg/sentinel"
)

func TestImageryStage_ResolvedCoordinatesSkipGeocoder(t *testing.T) {
	ctx := context.Background()
	img := &mockImageryClient{}
	geo := &mockGeocoder{}

	lat, lon := coords(10.0, 20.0)
	records := []model.DisasterRecord{
		{
			ItemID:       "n1",
			DisasterType: "flood",
			Locations:    []model.Location{{Name: "Riverton", Latitude: lat, Longitude: lon}},
		},
	}

	img.On("Fetch", mock.Anything, mock.MatchedBy(func(req sentinel.FetchRequest) bool {
		// AOI centered on the record's own coordinates.
		return req.RecordID == "n1" &&
			req.Bounds.Min(0) < 20.0 && req.Bounds.Max(0) > 20.0 &&
			req.Bounds.Min(1) < 10.0 && req.Bounds.Max(1) > 10.0
	})).Return([]model.ImageryTile{{RecordID: "n1", TileID: "S2-001"}}, nil).Once()

	p, _ := newTestPipeline(t, &mockNewsClient{}, &mockAnthropicClient{}, img, geo)

	analyses := p.imageryStage(ctx, records)
	require.Len(t, analyses, 1)
	assert.Len(t, analyses[0].Tiles, 1)
	assert.Empty(t, analyses[0].ImageryError)

	geo.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	img.AssertExpectations(t)
}

func TestImageryStage_GeocodeFailureRecorded(t *testing.T) {
	ctx := context.Background()
	img := &mockImageryClient{}
	geo := &mockGeocoder{}

	geo.On("Resolve", mock.Anything, "Nowhere", "").
		Return(nil, geocode.ErrNotFound).Once()

	records := []model.DisasterRecord{
		{ItemID: "n1", DisasterType: "flood", Locations: []model.Location{{Name: "Nowhere"}}},
	}

	p, _ := newTestPipeline(t, &mockNewsClient{}, &mockAnthropicClient{}, img, geo)

	analyses := p.imageryStage(ctx, records)
	require.Len(t, analyses, 1)
	assert.Empty(t, analyses[0].Tiles)
	assert.Contains(t, analyses[0].ImageryError, "Nowhere")

	img.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestImageryStage_ProviderErrorIsolatedPerRecord(t *testing.T) {
	ctx := context.Background()
	img := &mockImageryClient{}

	lat1, lon1 := coords(1.0, 1.0)
	lat2, lon2 := coords(2.0, 2.0)
	records := []model.DisasterRecord{
		{ItemID: "n1", DisasterType: "flood", Locations: []model.Location{{Name: "A", Latitude: lat1, Longitude: lon1}}},
		{ItemID: "n2", DisasterType: "wildfire", Locations: []model.Location{{Name: "B", Latitude: lat2, Longitude: lon2}}},
	}

	img.On("Fetch", mock.Anything, mock.MatchedBy(func(req sentinel.FetchRequest) bool {
		return req.RecordID == "n1"
	})).Return(nil, eris.New("provider unreachable")).Once()
	img.On("Fetch", mock.Anything, mock.MatchedBy(func(req sentinel.FetchRequest) bool {
		return req.RecordID == "n2"
	})).Return([]model.ImageryTile{{RecordID: "n2", TileID: "S2-002"}}, nil).Once()

	p, _ := newTestPipeline(t, &mockNewsClient{}, &mockAnthropicClient{}, img, &mockGeocoder{})

	analyses := p.imageryStage(ctx, records)
	require.Len(t, analyses, 2)
	assert.NotEmpty(t, analyses[0].ImageryError)
	assert.Empty(t, analyses[1].ImageryError)
	assert.Len(t, analyses[1].Tiles, 1)
}

func TestImageryWindow(t *testing.T) {
	p, _ := newTestPipeline(t, &mockNewsClient{}, &mockAnthropicClient{}, &mockImageryClient{}, &mockGeocoder{})

	// Known event date: window starts at the event.
	event := time.Now().UTC().Add(-72 * time.Hour)
	from, to := p.imageryWindow(model.DisasterRecord{EstimatedTime: &event})
	assert.Equal(t, event, from)
	assert.WithinDuration(t, time.Now().UTC(), to, time.Minute)

	// Unknown event date: lookback horizon.
	from, to = p.imageryWindow(model.DisasterRecord{})
	assert.WithinDuration(t, time.Now().UTC().Add(-10*24*time.Hour), from, time.Minute)
	assert.True(t, from.Before(to))
}

func TestPreprocessTile(t *testing.T) {
	p, _ := newTestPipeline(t, &mockNewsClient{}, &mockAnthropicClient{}, &mockImageryClient{}, &mockGeocoder{})

	// 1 band, 256x256 of raw samples yields exactly one patch.
	data := make([]byte, 256*256)
	tile := &model.ImageryTile{TileID: "t1", Bands: 1, Height: 256, Width: 256, Raster: data}
	p.preprocessTile(tile)
	assert.Equal(t, 1, tile.PatchCount)

	// Malformed payload leaves the tile untouched.
	bad := &model.ImageryTile{TileID: "t2", Bands: 3, Height: 256, Width: 256, Raster: []byte{1, 2, 3}}
	p.preprocessTile(bad)
	assert.Equal(t, 0, bad.PatchCount)
}

func TestPreprocessTile_TIFFPayload(t *testing.T) {
	p, _ := newTestPipeline(t, &mockNewsClient{}, &mockAnthropicClient{}, &mockImageryClient{}, &mockGeocoder{})

	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))

	// Provider tiles carry nominal dimensions; the decode fills in the
	// real shape and enables patching.
	tile := &model.ImageryTile{TileID: "t3", Bands: 3, Height: 512, Width: 512, Raster: buf.Bytes()}
	p.preprocessTile(tile)

	assert.Equal(t, 1, tile.PatchCount)
	assert.Equal(t, 3, tile.Bands)
	assert.Equal(t, 256, tile.Height)
	assert.Equal(t, 256, tile.Width)
}
