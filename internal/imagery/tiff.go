package imagery

import (
	"bytes"
	"image"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"
)

// DecodeTIFF decodes a TIFF-encoded scene into a 3-band RGB raster with
// samples in [0, 255]. This is the wire format the imagery provider
// returns for processed tiles.
func DecodeTIFF(data []byte) (*Raster, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "imagery: decode tiff")
	}
	return FromImage(img)
}

// FromImage converts a decoded image into a 3-band RGB raster,
// collapsing 16-bit samples to 8-bit range.
func FromImage(img image.Image) (*Raster, error) {
	b := img.Bounds()
	r, err := NewRaster(3, b.Dy(), b.Dx())
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			red, green, blue, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r.Set(0, y, x, float64(red>>8))
			r.Set(1, y, x, float64(green>>8))
			r.Set(2, y, x, float64(blue>>8))
		}
	}
	return r, nil
}
