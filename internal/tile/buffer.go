package tile

import (
	"github.com/DoyleJ11/pixel-board-backend/internal/bitmask"
	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
)

// Bounds selects how interpolated stroke samples near the tile edge are
// treated.
type Bounds int

const (
	// ClipToTile keeps every sample inside the tile.
	ClipToTile Bounds = iota
	// LegacyEdge drops interpolated samples on the last row and column.
	LegacyEdge
)

// Brush is the stroke footprint.
type Brush int

const (
	BrushPixel  Brush = 0
	BrushSquare Brush = 1 // 3x3 around each sample
)

// NoPoint marks a stroke with no previous sample.
var NoPoint = Point{Row: -1, Col: -1}

// Lock opens the edit buffer. Any leftover edits are discarded.
func (t *Tile) Lock() {
	t.locked = true
	t.buffer = bitmask.Mask{}
}

// Unlock closes the edit buffer and discards its contents.
func (t *Tile) Unlock() {
	t.locked = false
	t.buffer = bitmask.Mask{}
}

func (t *Tile) Locked() bool { return t.locked }

// Edits returns the number of tentative positions.
func (t *Tile) Edits() int { return t.buffer.Count() }

func (t *Tile) HasEdits() bool { return !t.buffer.IsZero() }

// Set records a tentative value at p. It is ignored while unlocked, outside
// the tile, and for new positions once the edit cap is reached. A value equal
// to the resolved one removes the tentative edit.
func (t *Tile) Set(p Point, c palette.Index) {
	if !t.locked || !p.in() {
		return
	}
	pos := p.pos()
	if c == t.resolved[p.Row][p.Col] {
		t.buffer.Clear(pos)
		return
	}
	if !t.buffer.Get(pos) && t.buffer.Count() >= t.maxEdits {
		return
	}
	t.buffer.Set(pos)
	t.values[pos] = c
}

// Clear removes the tentative edit at p.
func (t *Tile) Clear(p Point) {
	if !t.locked || !p.in() {
		return
	}
	t.buffer.Clear(p.pos())
}

// Stroke paints c along the segment from prev to cur. Pass NoPoint as prev
// for the first sample of a stroke.
func (t *Tile) Stroke(prev, cur Point, c palette.Index, brush Brush) {
	t.stroke(prev, cur, brush, func(p Point) { t.Set(p, c) })
}

// Erase clears tentative edits along the segment from prev to cur.
func (t *Tile) Erase(prev, cur Point, brush Brush) {
	t.stroke(prev, cur, brush, t.Clear)
}

func (t *Tile) stroke(prev, cur Point, brush Brush, fn func(Point)) {
	if !t.locked {
		return
	}
	stamp := func(p Point) {
		fn(p)
		if brush != BrushSquare {
			return
		}
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				if dr != 0 || dc != 0 {
					fn(Point{Row: p.Row + dr, Col: p.Col + dc})
				}
			}
		}
	}
	stamp(cur)
	if prev == NoPoint || prev == cur {
		return
	}
	line(prev, cur, func(p Point) {
		if p == cur {
			return
		}
		if t.bounds == LegacyEdge && (p.Row >= Size-1 || p.Col >= Size-1 || p.Row < 0 || p.Col < 0) {
			return
		}
		stamp(p)
	})
}

// line visits every point of the Bresenham segment from a to b inclusive.
func line(a, b Point, visit func(Point)) {
	dx, sx := abs(b.Col-a.Col), sign(b.Col-a.Col)
	dy, sy := -abs(b.Row-a.Row), sign(b.Row-a.Row)
	err := dx + dy
	p := a
	for {
		visit(p)
		if p == b {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			p.Col += sx
		}
		if e2 <= dx {
			err += dx
			p.Row += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

// BuildFrame turns the edit buffer into a frame against the resolved grid.
// The buffer is left as is; ok is false when there are no edits.
func (t *Tile) BuildFrame() (f *frame.Frame, ok bool) {
	if t.buffer.IsZero() {
		return nil, false
	}
	n := t.buffer.Count()
	colors := make([]palette.Index, 0, n)
	prev := make([]palette.Index, 0, n)
	for pos := range t.buffer.Positions() {
		p := pointAt(pos)
		colors = append(colors, t.values[pos])
		prev = append(prev, t.resolved[p.Row][p.Col])
	}
	f = &frame.Frame{Tile: t.coord, Mask: t.buffer, Colors: colors}
	f.SetPrevious(prev)
	return f, true
}
