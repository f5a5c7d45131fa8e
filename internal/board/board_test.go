package board

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/pixel-board-backend/internal/bitmask"
	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/tile"
)

func TestNew_Size(t *testing.T) {
	_, err := New(Config{Rows: 0, Cols: 4})
	assert.ErrorIs(t, err, ErrSize)
	_, err = New(Config{Rows: 17, Cols: 4})
	assert.ErrorIs(t, err, ErrSize)

	b, err := New(Config{ID: "x", Rows: 2, Cols: 3})
	require.NoError(t, err)
	assert.Len(t, b.Tiles(), 6)
	assert.Equal(t, image.Rect(0, 0, 48, 32), b.Bounds())
	assert.NotNil(t, b.Tile(frame.Coord{Row: 1, Col: 2}))
	assert.Nil(t, b.Tile(frame.Coord{Row: 2, Col: 0}))
	assert.Nil(t, b.Tile(frame.Coord{Row: 0, Col: 3}))
	assert.Equal(t, palette.MaxColors, b.Palette().Len())
}

func TestBackground(t *testing.T) {
	p := palette.Default()
	bg := image.NewRGBA(image.Rect(0, 0, 20, 20))
	bg.Set(0, 0, p.Color(8))
	bg.Set(17, 3, color.RGBA{R: 0xfe, G: 0x02, B: 0x4c, A: 0xff}) // close to index 8

	b, err := New(Config{Rows: 2, Cols: 2, Palette: p, Background: bg})
	require.NoError(t, err)
	assert.Equal(t, palette.Index(8), b.Tile(frame.Coord{}).Resolved(tile.Point{Row: 0, Col: 0}))
	assert.Equal(t, palette.Index(8), b.Tile(frame.Coord{Col: 1}).Resolved(tile.Point{Row: 3, Col: 1}))
	// outside the background stays at index 0
	assert.Equal(t, palette.Index(0), b.Tile(frame.Coord{Row: 1, Col: 1}).Resolved(tile.Point{Row: 15, Col: 15}))
}

func TestImage_FollowsTimeline(t *testing.T) {
	b, err := New(Config{Rows: 1, Cols: 2})
	require.NoError(t, err)

	f := &frame.Frame{
		Tile:      frame.Coord{Col: 1},
		Mask:      bitmask.FromPositions(0, 17),
		Colors:    []palette.Index{8, 12},
		Sequence:  0,
		TimeBase:  1_700_000_000,
		Timestamp: 0,
	}
	require.NoError(t, b.Timeline().Append(f))
	b.Timeline().SettleAll()

	img := b.Image(false)
	assert.Equal(t, uint8(8), img.ColorIndexAt(16, 0))
	assert.Equal(t, uint8(12), img.ColorIndexAt(17, 1))
	assert.Equal(t, uint8(0), img.ColorIndexAt(0, 0))

	tl := b.Tile(frame.Coord{})
	tl.Lock()
	tl.Set(tile.Point{Row: 2, Col: 2}, 3)
	assert.Equal(t, uint8(0), b.Image(false).ColorIndexAt(2, 2))
	assert.Equal(t, uint8(3), b.Image(true).ColorIndexAt(2, 2))
}

func TestImage_SmallPaletteStillRenders(t *testing.T) {
	p, err := palette.ParseHex([]string{"000000", "ffffff"})
	require.NoError(t, err)
	b, err := New(Config{Rows: 1, Cols: 1, Palette: p})
	require.NoError(t, err)
	f := &frame.Frame{Mask: bitmask.FromPositions(0), Colors: []palette.Index{9}, TimeBase: 1}
	require.NoError(t, b.Timeline().Append(f))
	b.Timeline().SettleAll()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, b.Image(false)))
}

func TestDecodeAndScale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(1, 1, color.RGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())

	big := Scale(img, 4)
	assert.Equal(t, image.Rect(0, 0, 8, 8), big.Bounds())
	r, _, _, _ := big.At(7, 7).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	r, _, _, _ = big.At(3, 3).RGBA()
	assert.Zero(t, r)

	assert.Same(t, img, Scale(img, 1))

	_, err = DecodeImage(bytes.NewReader([]byte("nope")))
	assert.Error(t, err)
}
