package frame

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/DoyleJ11/pixel-board-backend/internal/bitmask"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
)

var (
	ErrTruncated  = errors.New("frame: truncated data")
	ErrMalformed  = errors.New("frame: malformed data")
	ErrColorCount = errors.New("frame: inconsistent color count")
)

const (
	fullMaskBits  = bitmask.Size
	rowCount      = bitmask.Size / bitmask.RowWidth
	maxColorRun   = 16
	indexBits     = 4
	initialRowRLE = 0xFFFF
)

type maskEncoding uint8

const (
	maskEnumerated maskEncoding = iota
	maskFull
	maskRunLength
)

// plan holds every size decision; the flags it yields must be in the header
// before any payload bit is written.
type plan struct {
	mask     maskEncoding
	colorRLE bool
	table    []palette.Index
	bits     int
}

func bitsFor(colorCount int) int {
	if colorCount <= 1 {
		return 0
	}
	return bits.Len(uint(colorCount - 1))
}

// maskCosts returns the run-length and enumerated mask sizes in bits.
func maskCosts(m bitmask.Mask) (rle, enumerated int) {
	rle = rowCount
	prev := uint16(initialRowRLE)
	for r := 0; r < rowCount; r++ {
		row := m.Row(r)
		if row != prev {
			rle += bitmask.RowWidth
			prev = row
		}
	}
	return rle, 8 + 8*m.Count()
}

// colorRuns counts runs of identical symbols, at most maxColorRun long.
func colorRuns(colors []palette.Index) int {
	runs, run := 0, 0
	for i, c := range colors {
		if i == 0 || c != colors[i-1] || run == maxColorRun {
			runs++
			run = 0
		}
		run++
	}
	return runs
}

func planFor(f *Frame) plan {
	p := plan{table: colorTable(f.Colors)}
	p.bits = bitsFor(len(p.table))

	rle, enumerated := maskCosts(f.Mask)
	switch {
	case rle < fullMaskBits && rle < enumerated:
		p.mask = maskRunLength
	case f.Mask.Count() >= 32:
		p.mask = maskFull
	default:
		p.mask = maskEnumerated
	}

	// Dictionary indices and raw indices repeat at the same positions, so
	// the run count of the literal stream decides both paths.
	n := len(f.Colors)
	p.colorRLE = p.bits > 0 && colorRuns(f.Colors)*(4+p.bits) < n*p.bits
	return p
}

// Bytes returns the encoded frame, memoized on first use.
func (f *Frame) Bytes() ([]byte, error) {
	f.encOnce.Do(func() {
		f.data, f.encErr = Encode(f)
	})
	return f.data, f.encErr
}

// Encode serializes f without touching its memoized bytes.
func Encode(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	p := planFor(f)

	w := &bitWriter{}
	w.write(uint64(f.Sequence), 16)
	w.write(uint64(f.Author), 16)
	w.write(uint64(f.Tile.ID()), 8)
	w.write(uint64(len(p.table)-1), 4)
	w.writeBool(p.mask == maskFull)
	w.writeBool(f.Deleted)
	w.writeBool(p.mask == maskRunLength)
	w.writeBool(p.colorRLE)
	w.write(uint64(f.Timestamp), 16)
	if f.Timestamp == 0 {
		w.write(uint64(f.TimeBase), 32)
	}

	switch p.mask {
	case maskRunLength:
		prev := uint16(initialRowRLE)
		for r := 0; r < rowCount; r++ {
			row := f.Mask.Row(r)
			if row == prev {
				w.write(0, 1)
				continue
			}
			w.write(1, 1)
			w.write(uint64(row), bitmask.RowWidth)
			prev = row
		}
	case maskFull:
		for i := 0; i < bitmask.Size; i++ {
			w.writeBool(f.Mask.Get(i))
		}
	default:
		w.write(uint64(f.Mask.Count()), 8)
		for pos := range f.Mask.Positions() {
			w.write(uint64(pos), 8)
		}
	}

	symbols := f.Colors
	if p.bits < indexBits {
		var lookup [palette.MaxColors]palette.Index
		for i, c := range p.table {
			w.write(uint64(c), indexBits)
			lookup[c] = palette.Index(i)
		}
		symbols = make([]palette.Index, len(f.Colors))
		for i, c := range f.Colors {
			symbols[i] = lookup[c]
		}
	}

	switch {
	case p.bits == 0:
		// single color, the table entry is the payload
	case p.colorRLE:
		run := 0
		for i, s := range symbols {
			if run == maxColorRun-1 || i == len(symbols)-1 || s != symbols[i+1] {
				w.write(uint64(run), 4)
				w.write(uint64(s), p.bits)
				run = 0
			} else {
				run++
			}
		}
	default:
		for _, s := range symbols {
			w.write(uint64(s), p.bits)
		}
	}

	return w.bytes(), nil
}

// Decode parses a frame. Previous colors start empty.
func Decode(data []byte) (*Frame, error) {
	r := &bitReader{buf: data}
	f := &Frame{}

	f.Sequence = uint16(r.read(16))
	f.Author = uint16(r.read(16))
	f.Tile = CoordFromID(uint8(r.read(8)))
	colorCount := int(r.read(4)) + 1
	useFull := r.readBool()
	f.Deleted = r.readBool()
	maskRLE := r.readBool()
	colorRLE := r.readBool()
	f.Timestamp = uint16(r.read(16))
	if f.Timestamp == 0 {
		f.TimeBase = uint32(r.read(32))
	}
	if r.err != nil {
		return nil, r.err
	}

	switch {
	case maskRLE:
		prev := uint16(initialRowRLE)
		for row := 0; row < rowCount; row++ {
			if r.readBool() {
				prev = uint16(r.read(bitmask.RowWidth))
			}
			f.Mask.SetRow(row, prev)
		}
	case useFull:
		for i := 0; i < bitmask.Size; i++ {
			if r.readBool() {
				f.Mask.Set(i)
			}
		}
	default:
		n := int(r.read(8))
		last := -1
		for i := 0; i < n; i++ {
			pos := int(r.read(8))
			if r.err == nil && pos <= last {
				return nil, fmt.Errorf("%w: positions not increasing", ErrMalformed)
			}
			last = pos
			f.Mask.Set(pos)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	numPixels := f.Mask.Count()
	if numPixels == 0 {
		return nil, ErrEmpty
	}

	width := bitsFor(colorCount)
	var table []palette.Index
	if width < indexBits {
		table = make([]palette.Index, colorCount)
		for i := range table {
			table[i] = palette.Index(r.read(indexBits))
		}
	}

	symbols := make([]palette.Index, 0, numPixels)
	switch {
	case colorRLE:
		for len(symbols) < numPixels && r.err == nil {
			n := int(r.read(4)) + 1
			s := palette.Index(r.read(width))
			if len(symbols)+n > numPixels {
				return nil, fmt.Errorf("%w: color run overflows mask", ErrMalformed)
			}
			for j := 0; j < n; j++ {
				symbols = append(symbols, s)
			}
		}
	case width == 0:
		for len(symbols) < numPixels {
			symbols = append(symbols, 0)
		}
	default:
		for i := 0; i < numPixels; i++ {
			symbols = append(symbols, palette.Index(r.read(width)))
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	f.Colors = symbols
	if table != nil {
		f.Colors = make([]palette.Index, numPixels)
		for i, s := range symbols {
			if int(s) >= len(table) {
				return nil, fmt.Errorf("%w: index %d of %d", ErrColorCount, s, len(table))
			}
			f.Colors[i] = table[s]
		}
	}
	if got := len(colorTable(f.Colors)); got != colorCount {
		return nil, fmt.Errorf("%w: header says %d, payload has %d", ErrColorCount, colorCount, got)
	}
	return f, nil
}
