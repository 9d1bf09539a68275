// Package biome holds the moisture/elevation color lookup table.
//
// The table is an owned RGB buffer (3 bytes per pixel, row-major) with explicit
// width/height/stride metadata. It is validated once at load, and every lookup
// goes through At, which saturates out-of-range indices to the nearest edge.
package biome

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
)

const Channels = 3

var (
	ErrEmptyTable = errors.New("biome table has zero width or height")
	ErrBadStride  = errors.New("biome table buffer length does not match width*height*3")
)

type RGB [3]uint8

type Table struct {
	width  int
	height int
	stride int // bytes per row
	pix    []uint8
}

// Load decodes an image file (PNG, JPEG or BMP) and converts it to a 3-channel table.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("biome table %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("biome table %s: decode: %w", path, err)
	}
	t, err := FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("biome table %s: %w", path, err)
	}
	return t, nil
}

// FromImage copies img into a table, dropping any alpha channel.
func FromImage(img image.Image) (*Table, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyTable
	}
	pix := make([]uint8, w*h*Channels)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			cr, cg, cb, _ := img.At(b.Min.X+c, b.Min.Y+r).RGBA()
			i := (w*r + c) * Channels
			pix[i+0] = uint8(cr >> 8)
			pix[i+1] = uint8(cg >> 8)
			pix[i+2] = uint8(cb >> 8)
		}
	}
	return &Table{width: w, height: h, stride: w * Channels, pix: pix}, nil
}

// FromRGB wraps a tightly packed RGB buffer. The buffer is copied.
func FromRGB(width, height int, pix []uint8) (*Table, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyTable
	}
	if len(pix) != width*height*Channels {
		return nil, fmt.Errorf("%w: got %d want %d", ErrBadStride, len(pix), width*height*Channels)
	}
	own := make([]uint8, len(pix))
	copy(own, pix)
	return &Table{width: width, height: height, stride: width * Channels, pix: own}, nil
}

func (t *Table) Width() int  { return t.width }
func (t *Table) Height() int { return t.height }
func (t *Table) Stride() int { return t.stride }

// At returns the pixel at (row, col). Indices outside the table are clamped.
func (t *Table) At(row, col int) RGB {
	row = clamp(row, t.height-1)
	col = clamp(col, t.width-1)
	i := row*t.stride + col*Channels
	return RGB{t.pix[i], t.pix[i+1], t.pix[i+2]}
}

// Normalized returns the pixel at (row, col) as [0,1] floats.
func (t *Table) Normalized(row, col int) [3]float32 {
	p := t.At(row, col)
	return [3]float32{
		float32(p[0]) / 255,
		float32(p[1]) / 255,
		float32(p[2]) / 255,
	}
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
