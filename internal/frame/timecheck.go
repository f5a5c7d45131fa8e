package frame

import (
	"math"
	"time"
)

// TimeCheck tracks a board's time base. Frames carry a 16 bit minute offset
// from the most recent base; when the offset would not fit, a new base is
// emitted in the frame itself.
type TimeCheck struct {
	Base uint32
}

// Stamp returns the timestamp and time base fields for a frame accepted at t.
// The time base is only non-zero when timestamp is zero.
func (c *TimeCheck) Stamp(t time.Time) (timestamp uint16, base uint32) {
	minute := t.Truncate(time.Minute).Unix()
	delta := (minute - int64(c.Base)) / 60
	if c.Base == 0 || delta < 1 || delta > math.MaxUint16-1 {
		c.Base = uint32(minute - 60)
		return 0, c.Base
	}
	return uint16(delta), 0
}

// Observe advances the base from f and returns the wall-clock minute f was
// accepted in. Frames must be observed in sequence order.
func (c *TimeCheck) Observe(f *Frame) time.Time {
	if f.Timestamp == 0 {
		c.Base = f.TimeBase
		return time.Unix(int64(c.Base)+60, 0).UTC()
	}
	return time.Unix(int64(c.Base)+int64(f.Timestamp)*60, 0).UTC()
}
