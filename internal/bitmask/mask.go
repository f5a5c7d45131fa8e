package bitmask

import (
	"iter"
	"math/bits"
)

// Size is the number of pixels in one tile (16x16).
const Size = 256

// RowWidth is the number of bits in one mask row.
const RowWidth = 16

// Mask is a fixed 256 bit set of pixel positions. The zero value is empty.
type Mask [4]uint64

func (m *Mask) Set(pos int) {
	if pos < 0 || pos >= Size {
		return
	}
	m[pos>>6] |= 1 << (uint(pos) & 63)
}

func (m *Mask) Clear(pos int) {
	if pos < 0 || pos >= Size {
		return
	}
	m[pos>>6] &^= 1 << (uint(pos) & 63)
}

func (m Mask) Get(pos int) bool {
	if pos < 0 || pos >= Size {
		return false
	}
	return m[pos>>6]&(1<<(uint(pos)&63)) != 0
}

// Count returns the cardinality of the mask.
func (m Mask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

func (m Mask) IsZero() bool {
	return m == Mask{}
}

// Positions iterates the set positions in increasing order.
func (m Mask) Positions() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i, w := range m {
			for w != 0 {
				b := bits.TrailingZeros64(w)
				if !yield(i<<6 + b) {
					return
				}
				w &= w - 1
			}
		}
	}
}

// Slice returns positions in increasing order as a slice.
func (m Mask) Slice() []int {
	out := make([]int, 0, m.Count())
	for p := range m.Positions() {
		out = append(out, p)
	}
	return out
}

// Trim keeps only bits [0, n). Trimming to Size is the identity.
func (m Mask) Trim(n int) Mask {
	var out Mask
	if n >= Size {
		return m
	}
	for p := range m.Positions() {
		if p >= n {
			break
		}
		out.Set(p)
	}
	return out
}

// Row returns the 16 bits of row r with column 0 in the most significant bit.
func (m Mask) Row(r int) uint16 {
	var v uint16
	for c := 0; c < RowWidth; c++ {
		v <<= 1
		if m.Get(r*RowWidth + c) {
			v |= 1
		}
	}
	return v
}

// SetRow overwrites row r; column 0 is the most significant bit of v.
func (m *Mask) SetRow(r int, v uint16) {
	for c := 0; c < RowWidth; c++ {
		if v&(1<<(RowWidth-1-c)) != 0 {
			m.Set(r*RowWidth + c)
		} else {
			m.Clear(r*RowWidth + c)
		}
	}
}

// FromPositions builds a mask from the given positions. Out of range
// positions are ignored.
func FromPositions(pos ...int) Mask {
	var m Mask
	for _, p := range pos {
		m.Set(p)
	}
	return m
}
