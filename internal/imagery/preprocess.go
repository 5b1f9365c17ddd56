// Package imagery performs raster preprocessing on fetched tiles:
// radiometric normalization and sliding-window patch extraction for
// downstream analysis models.
package imagery

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultPatchSize is the square patch edge in pixels.
	DefaultPatchSize = 256
	// DefaultStride is the sliding-window step; half the patch size so
	// adjacent patches overlap 50%.
	DefaultStride = 128
)

// Raster is a decoded multi-band image in band-height-width order.
type Raster struct {
	Bands  int
	Height int
	Width  int
	// Pixels is laid out [band][row][col] flattened.
	Pixels []float64
}

// NewRaster allocates a raster of the given shape.
func NewRaster(bands, height, width int) (*Raster, error) {
	if bands <= 0 || height <= 0 || width <= 0 {
		return nil, eris.Errorf("imagery: invalid raster shape %dx%dx%d", bands, height, width)
	}
	return &Raster{
		Bands:  bands,
		Height: height,
		Width:  width,
		Pixels: make([]float64, bands*height*width),
	}, nil
}

// FromBytes decodes a raw 8-bit sample payload in band-height-width
// order into a Raster. The payload must contain exactly bands*height*width
// samples.
func FromBytes(data []byte, bands, height, width int) (*Raster, error) {
	r, err := NewRaster(bands, height, width)
	if err != nil {
		return nil, err
	}
	if len(data) != len(r.Pixels) {
		return nil, eris.Errorf("imagery: payload is %d samples, shape needs %d", len(data), len(r.Pixels))
	}
	for i, b := range data {
		r.Pixels[i] = float64(b)
	}
	return r, nil
}

// At returns the pixel value at (band, row, col).
func (r *Raster) At(band, row, col int) float64 {
	return r.Pixels[(band*r.Height+row)*r.Width+col]
}

// Set writes the pixel value at (band, row, col).
func (r *Raster) Set(band, row, col int, v float64) {
	r.Pixels[(band*r.Height+row)*r.Width+col] = v
}

// Normalize clips values to [lo, hi] and rescales to [0, 1] in place.
// Values outside the clip range are counted and logged; a tile that is
// entirely constant normalizes to zeros.
func Normalize(r *Raster, lo, hi float64) error {
	if r == nil || len(r.Pixels) == 0 {
		return eris.New("imagery: normalize empty raster")
	}
	if hi <= lo {
		return eris.Errorf("imagery: invalid clip range [%g, %g]", lo, hi)
	}

	clipped := 0
	scale := hi - lo
	for i, v := range r.Pixels {
		if v < lo {
			v = lo
			clipped++
		} else if v > hi {
			v = hi
			clipped++
		}
		r.Pixels[i] = (v - lo) / scale
	}

	if clipped > 0 {
		zap.L().Debug("imagery: clipped pixels during normalization",
			zap.Int("clipped", clipped),
			zap.Int("total", len(r.Pixels)),
		)
	}
	return nil
}

// Stats returns per-raster min, max, and mean. Useful for picking clip
// bounds and for sanity checks in tests.
func Stats(r *Raster) (min, max, mean float64) {
	if r == nil || len(r.Pixels) == 0 {
		return 0, 0, 0
	}
	min, max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range r.Pixels {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, max, sum / float64(len(r.Pixels))
}

// Patch is one extracted window with its origin in the source raster.
type Patch struct {
	Row    int
	Col    int
	Raster *Raster
}

// Patches slides a size x size window over the raster with the given
// stride and extracts each fully-contained window across all bands.
// A raster smaller than the patch size yields no patches.
func Patches(r *Raster, size, stride int) ([]Patch, error) {
	if r == nil {
		return nil, eris.New("imagery: patches on nil raster")
	}
	if size <= 0 || stride <= 0 {
		return nil, eris.Errorf("imagery: invalid patch size %d stride %d", size, stride)
	}
	if r.Height < size || r.Width < size {
		return nil, nil
	}

	var patches []Patch
	for row := 0; row+size <= r.Height; row += stride {
		for col := 0; col+size <= r.Width; col += stride {
			p, err := NewRaster(r.Bands, size, size)
			if err != nil {
				return nil, err
			}
			for b := 0; b < r.Bands; b++ {
				for y := 0; y < size; y++ {
					srcOff := (b*r.Height+row+y)*r.Width + col
					dstOff := (b*size + y) * size
					copy(p.Pixels[dstOff:dstOff+size], r.Pixels[srcOff:srcOff+size])
				}
			}
			patches = append(patches, Patch{Row: row, Col: col, Raster: p})
		}
	}
	return patches, nil
}
