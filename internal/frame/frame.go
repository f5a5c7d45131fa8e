package frame

import (
	"errors"
	"sync"

	"github.com/DoyleJ11/pixel-board-backend/internal/bitmask"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
)

// TilesPerSide is the width of the tile grid addressed by the 8 bit tile id.
const TilesPerSide = 16

var (
	ErrEmpty        = errors.New("frame: no pixels")
	ErrTooManyColor = errors.New("frame: more than 16 distinct colors")
	ErrColorRange   = errors.New("frame: color index out of range")
	ErrLength       = errors.New("frame: colors do not match mask")
	ErrTileRange    = errors.New("frame: tile coordinate out of range")
)

// Coord addresses one tile within a board.
type Coord struct {
	Row uint8
	Col uint8
}

func (c Coord) ID() uint8 { return c.Row*TilesPerSide + c.Col }

func CoordFromID(id uint8) Coord {
	return Coord{Row: id / TilesPerSide, Col: id % TilesPerSide}
}

// Frame is one committed pixel diff against a tile. Frames are immutable once
// built; the previous colors are the only state captured later, exactly once,
// when the frame is first applied.
type Frame struct {
	Tile   Coord
	Mask   bitmask.Mask
	Colors []palette.Index

	Author    uint16
	Sequence  uint16
	Timestamp uint16 // minutes since TimeBase; 0 means TimeBase is carried
	TimeBase  uint32 // unix seconds, only meaningful when Timestamp == 0
	Deleted   bool

	prev    []palette.Index
	hasPrev bool

	encOnce sync.Once
	data    []byte
	encErr  error

	hashOnce sync.Once
	hash     [32]byte
	hashErr  error
}

// Validate checks the invariants the codec depends on.
func (f *Frame) Validate() error {
	n := f.Mask.Count()
	if n == 0 {
		return ErrEmpty
	}
	if len(f.Colors) != n {
		return ErrLength
	}
	if f.Tile.Row >= TilesPerSide || f.Tile.Col >= TilesPerSide {
		return ErrTileRange
	}
	for _, c := range f.Colors {
		if c >= palette.MaxColors {
			return ErrColorRange
		}
	}
	if len(colorTable(f.Colors)) > palette.MaxColors {
		return ErrTooManyColor
	}
	return nil
}

// Previous returns the colors captured before the first application.
func (f *Frame) Previous() ([]palette.Index, bool) {
	return f.prev, f.hasPrev
}

// SetPrevious records the pre-application colors. It only succeeds once and
// only with one color per masked pixel.
func (f *Frame) SetPrevious(prev []palette.Index) bool {
	if f.hasPrev || len(prev) != f.Mask.Count() {
		return false
	}
	f.prev = append([]palette.Index(nil), prev...)
	f.hasPrev = true
	return true
}

// Fresh returns a copy without captured previous colors.
func (f *Frame) Fresh() *Frame {
	return &Frame{
		Tile:      f.Tile,
		Mask:      f.Mask,
		Colors:    append([]palette.Index(nil), f.Colors...),
		Author:    f.Author,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
		TimeBase:  f.TimeBase,
		Deleted:   f.Deleted,
	}
}

// Tombstone returns a deleted copy of the frame.
func (f *Frame) Tombstone() *Frame {
	out := f.Fresh()
	out.Deleted = true
	out.prev, out.hasPrev = f.prev, f.hasPrev
	return out
}

// Stamp returns a copy carrying the accepting authority's header fields.
func (f *Frame) Stamp(author, sequence, timestamp uint16, timeBase uint32) *Frame {
	out := f.Fresh()
	out.Author = author
	out.Sequence = sequence
	out.Timestamp = timestamp
	out.TimeBase = timeBase
	out.prev, out.hasPrev = f.prev, f.hasPrev
	return out
}

// ColorCount returns the number of distinct colors in the frame.
func (f *Frame) ColorCount() int {
	return len(colorTable(f.Colors))
}

// colorTable lists distinct colors in order of first appearance.
func colorTable(colors []palette.Index) []palette.Index {
	var seen [256]bool
	var out []palette.Index
	for _, c := range colors {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
