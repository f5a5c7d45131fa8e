package palette

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/ericpauley/go-quantize/quantize"
)

// MaxColors is the largest palette a frame can address with 4 bit indices.
const MaxColors = 16

// Index identifies a palette entry. It is not a color value.
type Index = uint8

var (
	ErrTooManyColors = errors.New("palette: more than 16 colors")
	ErrEmpty         = errors.New("palette: no colors")
	ErrBadHex        = errors.New("palette: invalid hex color")
)

// Palette maps small indices to opaque RGB colors.
type Palette []color.RGBA

// Default is the board palette used when none is configured.
func Default() Palette {
	p, _ := ParseHex([]string{
		"000000", "1d2b53", "7e2553", "008751",
		"ab5236", "5f574f", "c2c3c7", "fff1e8",
		"ff004d", "ffa300", "ffec27", "00e436",
		"29adff", "83769c", "ff77a8", "ffccaa",
	})
	return p
}

// ParseHex builds a palette from "rrggbb" strings, with or without a leading #.
func ParseHex(colors []string) (Palette, error) {
	if len(colors) == 0 {
		return nil, ErrEmpty
	}
	if len(colors) > MaxColors {
		return nil, ErrTooManyColors
	}
	p := make(Palette, 0, len(colors))
	for _, s := range colors {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		if len(s) != 6 {
			return nil, fmt.Errorf("%w: %q", ErrBadHex, s)
		}
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadHex, s)
		}
		p = append(p, color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff})
	}
	return p, nil
}

// FromImage derives an n color palette from an image with median cut
// quantization.
func FromImage(m image.Image, n int) (Palette, error) {
	if n <= 0 {
		return nil, ErrEmpty
	}
	if n > MaxColors {
		return nil, ErrTooManyColors
	}
	q := quantize.MedianCutQuantizer{}
	cp := q.Quantize(make(color.Palette, 0, n), m)
	if len(cp) == 0 {
		return nil, ErrEmpty
	}
	p := make(Palette, 0, len(cp))
	for _, c := range cp {
		r, g, b, _ := c.RGBA()
		p = append(p, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff})
	}
	return p, nil
}

func (p Palette) Len() int { return len(p) }

// Color returns the color for i, or transparent black if i is out of range.
func (p Palette) Color(i Index) color.RGBA {
	if int(i) >= len(p) {
		return color.RGBA{}
	}
	return p[i]
}

// Index returns the exact index of c.
func (p Palette) Index(c color.Color) (Index, bool) {
	r, g, b, _ := c.RGBA()
	want := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
	for i, pc := range p {
		if pc == want {
			return Index(i), true
		}
	}
	return 0, false
}

// Nearest returns the index of the closest palette color in RGB space.
func (p Palette) Nearest(c color.Color) Index {
	if len(p) == 0 {
		return 0
	}
	return Index(p.ColorPalette().Index(c))
}

// ColorPalette converts to an image/color palette for paletted images.
func (p Palette) ColorPalette() color.Palette {
	cp := make(color.Palette, len(p))
	for i, c := range p {
		cp[i] = c
	}
	return cp
}

func (p Palette) Hex() []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
	}
	return out
}
