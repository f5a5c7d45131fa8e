package frame

// bitWriter appends big-endian bit fields to a byte slice.
type bitWriter struct {
	buf []byte
	n   int // bits written
}

func (w *bitWriter) write(v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<uint(i)) != 0 {
			w.buf[w.n/8] |= 0x80 >> uint(w.n%8)
		}
		w.n++
	}
}

func (w *bitWriter) writeBool(b bool) {
	if b {
		w.write(1, 1)
	} else {
		w.write(0, 1)
	}
}

// bytes returns the stream padded with zero bits to a byte boundary.
func (w *bitWriter) bytes() []byte { return w.buf }

// bitReader reads big-endian bit fields. The first read past the end sets
// err and every later read returns zero.
type bitReader struct {
	buf []byte
	off int
	err error
}

func (r *bitReader) read(width int) uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+width > len(r.buf)*8 {
		r.err = ErrTruncated
		return 0
	}
	var v uint64
	for i := 0; i < width; i++ {
		v <<= 1
		if r.buf[r.off/8]&(0x80>>uint(r.off%8)) != 0 {
			v |= 1
		}
		r.off++
	}
	return v
}

func (r *bitReader) readBool() bool { return r.read(1) == 1 }
