package board

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/tile"
	"github.com/DoyleJ11/pixel-board-backend/internal/timeline"
)

var ErrSize = errors.New("board: size out of range")

type Config struct {
	ID         string
	Rows       int // in tiles
	Cols       int
	Palette    palette.Palette
	Background image.Image // optional initial bitmap, matched to the palette
	Bounds     tile.Bounds
	MaxEdits   int
	Speed      int
	Logger     *zap.Logger
	OnSettled  func(offset int)
}

// Board owns the tiles of one canvas and the timeline that drives them.
// Like the timeline, it is not safe for concurrent use.
type Board struct {
	id       string
	rows     int
	cols     int
	palette  palette.Palette
	tiles    []*tile.Tile
	timeline *timeline.Timeline
}

func New(cfg Config) (*Board, error) {
	if cfg.Rows < 1 || cfg.Rows > frame.TilesPerSide || cfg.Cols < 1 || cfg.Cols > frame.TilesPerSide {
		return nil, fmt.Errorf("%w: %dx%d", ErrSize, cfg.Rows, cfg.Cols)
	}
	p := cfg.Palette
	if p == nil {
		p = palette.Default()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	b := &Board{id: cfg.ID, rows: cfg.Rows, cols: cfg.Cols, palette: p}
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			coord := frame.Coord{Row: uint8(r), Col: uint8(c)}
			opts := []tile.Option{tile.WithBounds(cfg.Bounds), tile.WithMaxEdits(cfg.MaxEdits)}
			if cfg.Background != nil {
				opts = append(opts, tile.WithPixels(b.backgroundTile(cfg.Background, coord)))
			}
			b.tiles = append(b.tiles, tile.New(coord, opts...))
		}
	}

	topts := []timeline.Option{timeline.WithLogger(log.With(zap.String("board", cfg.ID)))}
	if cfg.Speed > 0 {
		topts = append(topts, timeline.WithSpeed(cfg.Speed))
	}
	if cfg.OnSettled != nil {
		topts = append(topts, timeline.WithOnSettled(cfg.OnSettled))
	}
	b.timeline = timeline.New(b, topts...)
	return b, nil
}

func (b *Board) backgroundTile(img image.Image, c frame.Coord) [tile.Size][tile.Size]palette.Index {
	var px [tile.Size][tile.Size]palette.Index
	bounds := img.Bounds()
	for r := 0; r < tile.Size; r++ {
		for col := 0; col < tile.Size; col++ {
			pt := image.Pt(bounds.Min.X+int(c.Col)*tile.Size+col, bounds.Min.Y+int(c.Row)*tile.Size+r)
			if !pt.In(bounds) {
				continue
			}
			px[r][col] = b.palette.Nearest(img.At(pt.X, pt.Y))
		}
	}
	return px
}

func (b *Board) ID() string                   { return b.id }
func (b *Board) Rows() int                    { return b.rows }
func (b *Board) Cols() int                    { return b.cols }
func (b *Board) Palette() palette.Palette     { return b.palette }
func (b *Board) Timeline() *timeline.Timeline { return b.timeline }

// Tile returns the tile at c, or nil when c is off the board.
func (b *Board) Tile(c frame.Coord) *tile.Tile {
	if int(c.Row) >= b.rows || int(c.Col) >= b.cols {
		return nil
	}
	return b.tiles[int(c.Row)*b.cols+int(c.Col)]
}

// Tiles returns every tile in row-major order.
func (b *Board) Tiles() []*tile.Tile { return b.tiles }

// Bounds is the pixel rectangle of the whole board.
func (b *Board) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.cols*tile.Size, b.rows*tile.Size)
}

// Image renders the board as a paletted image. With edits set, tentative
// values of locked tiles are drawn over the resolved ones.
func (b *Board) Image(edits bool) *image.Paletted {
	img := image.NewPaletted(b.Bounds(), b.colorPalette())
	for _, t := range b.tiles {
		c := t.Coord()
		for r := 0; r < tile.Size; r++ {
			for col := 0; col < tile.Size; col++ {
				p := tile.Point{Row: r, Col: col}
				v := t.Resolved(p)
				if edits {
					v = t.Pixel(p)
				}
				img.SetColorIndex(int(c.Col)*tile.Size+col, int(c.Row)*tile.Size+r, v)
			}
		}
	}
	return img
}

// colorPalette pads the palette so every 4 bit index renders.
func (b *Board) colorPalette() color.Palette {
	cp := b.palette.ColorPalette()
	for len(cp) < palette.MaxColors {
		cp = append(cp, color.RGBA{A: 0xff})
	}
	return cp
}
