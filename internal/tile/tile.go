package tile

import (
	"errors"

	"github.com/DoyleJ11/pixel-board-backend/internal/bitmask"
	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
)

// Size is the side length of a tile in pixels.
const Size = bitmask.RowWidth

// DefaultMaxEdits bounds the tentative edits of one lock.
const DefaultMaxEdits = bitmask.Size

var (
	ErrNotApplied = errors.New("tile: frame was never applied")
	ErrWrongTile  = errors.New("tile: frame belongs to another tile")
)

// Point is a pixel inside a tile. Points outside [0, Size) are valid
// arguments to the edit methods and are ignored there.
type Point struct {
	Row int
	Col int
}

func (p Point) in() bool {
	return p.Row >= 0 && p.Row < Size && p.Col >= 0 && p.Col < Size
}

func (p Point) pos() int { return p.Row*Size + p.Col }

func pointAt(pos int) Point { return Point{Row: pos / Size, Col: pos % Size} }

// Tile holds the resolved pixels of one tile, its edit buffer while locked
// and the frames currently applied to it. A Tile is not safe for concurrent
// use; the owning board serializes access.
type Tile struct {
	coord    frame.Coord
	resolved [Size][Size]palette.Index

	locked bool
	buffer bitmask.Mask
	values [bitmask.Size]palette.Index

	maxEdits int
	bounds   Bounds

	frames []*frame.Frame
	bySeq  map[uint16]*frame.Frame
}

type Option func(*Tile)

// WithMaxEdits caps the number of distinct tentative positions per lock.
func WithMaxEdits(n int) Option {
	return func(t *Tile) {
		if n > 0 {
			t.maxEdits = n
		}
	}
}

func WithBounds(b Bounds) Option {
	return func(t *Tile) { t.bounds = b }
}

// WithPixels sets the initial bitmap the frames apply on top of.
func WithPixels(px [Size][Size]palette.Index) Option {
	return func(t *Tile) { t.resolved = px }
}

func New(coord frame.Coord, opts ...Option) *Tile {
	t := &Tile{
		coord:    coord,
		maxEdits: DefaultMaxEdits,
		bySeq:    make(map[uint16]*frame.Frame),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tile) Coord() frame.Coord { return t.coord }

// Resolved returns the committed value at p.
func (t *Tile) Resolved(p Point) palette.Index {
	if !p.in() {
		return 0
	}
	return t.resolved[p.Row][p.Col]
}

// Pixel returns the value to display at p: the tentative edit when there is
// one, otherwise the resolved value.
func (t *Tile) Pixel(p Point) palette.Index {
	if !p.in() {
		return 0
	}
	if t.buffer.Get(p.pos()) {
		return t.values[p.pos()]
	}
	return t.resolved[p.Row][p.Col]
}

// Pixels returns a copy of the resolved grid.
func (t *Tile) Pixels() [Size][Size]palette.Index { return t.resolved }

// ApplyFrame writes f's colors into the resolved grid. The colors being
// replaced are captured into f the first time it is applied; later
// applications keep that capture.
func (t *Tile) ApplyFrame(f *frame.Frame) error {
	if f.Tile != t.coord {
		return ErrWrongTile
	}
	if _, ok := f.Previous(); !ok {
		prev := make([]palette.Index, 0, len(f.Colors))
		for pos := range f.Mask.Positions() {
			p := pointAt(pos)
			prev = append(prev, t.resolved[p.Row][p.Col])
		}
		f.SetPrevious(prev)
	}
	i := 0
	for pos := range f.Mask.Positions() {
		p := pointAt(pos)
		t.resolved[p.Row][p.Col] = f.Colors[i]
		i++
	}
	t.push(f)
	return nil
}

// UndoFrame restores the colors f replaced. Undoing a frame that was never
// applied leaves the grid untouched.
func (t *Tile) UndoFrame(f *frame.Frame) error {
	if f.Tile != t.coord {
		return ErrWrongTile
	}
	prev, ok := f.Previous()
	if !ok {
		return ErrNotApplied
	}
	i := 0
	for pos := range f.Mask.Positions() {
		p := pointAt(pos)
		t.resolved[p.Row][p.Col] = prev[i]
		i++
	}
	t.pop(f)
	return nil
}

func (t *Tile) push(f *frame.Frame) {
	t.frames = append(t.frames, f)
	t.bySeq[f.Sequence] = f
}

func (t *Tile) pop(f *frame.Frame) {
	for i := len(t.frames) - 1; i >= 0; i-- {
		if t.frames[i] == f {
			t.frames = append(t.frames[:i], t.frames[i+1:]...)
			break
		}
	}
	if t.bySeq[f.Sequence] == f {
		delete(t.bySeq, f.Sequence)
	}
}

// Frames returns the applied frames in application order.
func (t *Tile) Frames() []*frame.Frame {
	return append([]*frame.Frame(nil), t.frames...)
}

func (t *Tile) FrameBySequence(seq uint16) (*frame.Frame, bool) {
	f, ok := t.bySeq[seq]
	return f, ok
}

// Contributors lists the distinct authors of applied frames, most recent
// first.
func (t *Tile) Contributors() []uint16 {
	seen := make(map[uint16]bool)
	var out []uint16
	for i := len(t.frames) - 1; i >= 0; i-- {
		a := t.frames[i].Author
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
