package timeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/tile"
)

const (
	MinSpeed     = 1
	MaxSpeed     = 64
	DefaultSpeed = MaxSpeed
)

var (
	ErrOutOfOrder   = errors.New("timeline: sequence does not increase")
	ErrDeleted      = errors.New("timeline: frame is deleted")
	ErrUnknownTile  = errors.New("timeline: tile not on this board")
	ErrUnknownFrame = errors.New("timeline: no frame with that sequence")
	ErrInconsistent = errors.New("timeline: excision interrupted, rebuild from history")
)

// Tiles resolves the tile a frame belongs to. It returns nil for
// coordinates outside the board.
type Tiles interface {
	Tile(c frame.Coord) *tile.Tile
}

// History is the persisted frame log of one board, in sequence order.
type History interface {
	Scan(ctx context.Context, fn func(seq uint16, data []byte) error) error
}

// Entry is a frame with the wall-clock minute it was accepted in.
type Entry struct {
	Frame *frame.Frame
	Time  time.Time
}

// Timeline is a board's ordered frame log plus the playback cursors that
// decide how much of it is materialized into tile state. It is not safe for
// concurrent use.
type Timeline struct {
	tiles   Tiles
	log     *zap.Logger
	entries []Entry
	clock   frame.TimeCheck
	high    int // highest sequence seen, tombstones included; -1 when none

	offset  int
	drawn   int
	paused  bool
	speed   int
	settled func(offset int)
}

type Option func(*Timeline)

func WithLogger(l *zap.Logger) Option {
	return func(t *Timeline) { t.log = l }
}

// WithSpeed sets the number of frames applied or undone per tick.
func WithSpeed(n int) Option {
	return func(t *Timeline) { t.SetSpeed(n) }
}

// WithOnSettled registers the observer called when the drawn cursor catches
// up with the target.
func WithOnSettled(fn func(offset int)) Option {
	return func(t *Timeline) { t.settled = fn }
}

func New(tiles Tiles, opts ...Option) *Timeline {
	t := &Timeline{
		tiles: tiles,
		log:   zap.NewNop(),
		speed: DefaultSpeed,
		high:  -1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Timeline) Len() int         { return len(t.entries) }
func (t *Timeline) Offset() int      { return t.offset }
func (t *Timeline) DrawnOffset() int { return t.drawn }
func (t *Timeline) Paused() bool     { return t.paused }
func (t *Timeline) Speed() int       { return t.speed }

func (t *Timeline) SetSpeed(n int) {
	t.speed = min(max(n, MinSpeed), MaxSpeed)
}

// Entries returns a copy of the log.
func (t *Timeline) Entries() []Entry {
	return slices.Clone(t.entries)
}

// At returns the i-th entry.
func (t *Timeline) At(i int) Entry { return t.entries[i] }

// Last returns the most recent entry.
func (t *Timeline) Last() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

func (t *Timeline) index(seq uint16) (int, bool) {
	return slices.BinarySearchFunc(t.entries, seq, func(e Entry, s uint16) int {
		return int(e.Frame.Sequence) - int(s)
	})
}

// FrameBySequence looks up a frame in the log.
func (t *Timeline) FrameBySequence(seq uint16) (*frame.Frame, bool) {
	i, ok := t.index(seq)
	if !ok {
		return nil, false
	}
	return t.entries[i].Frame, true
}

// NextSequence returns the sequence number the next accepted frame gets.
func (t *Timeline) NextSequence() uint16 { return uint16(t.high + 1) }

// Full reports whether the sequence space is used up.
func (t *Timeline) Full() bool { return t.high >= math.MaxUint16 }

// TimeCheck returns the board's current time base, for the authority that
// stamps the next frame.
func (t *Timeline) TimeCheck() frame.TimeCheck { return t.clock }

// Append adds an accepted frame to the end of the log. Unless playback is
// paused the target cursor follows it.
func (t *Timeline) Append(f *frame.Frame) error {
	if f.Deleted {
		return ErrDeleted
	}
	if last, ok := t.Last(); ok && f.Sequence <= last.Frame.Sequence {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, f.Sequence, last.Frame.Sequence)
	}
	if t.tiles.Tile(f.Tile) == nil {
		return ErrUnknownTile
	}
	t.entries = append(t.entries, Entry{Frame: f, Time: t.clock.Observe(f)})
	t.high = max(t.high, int(f.Sequence))
	if !t.paused {
		t.offset = len(t.entries)
	}
	return nil
}

// Receive is the inbound path for frames from the authority: tombstones
// remove the frame they name, everything else is appended.
func (t *Timeline) Receive(f *frame.Frame) error {
	if f.Deleted {
		_, err := t.Remove(f.Sequence)
		if errors.Is(err, ErrUnknownFrame) {
			return nil
		}
		return err
	}
	return t.Append(f)
}

// Seek moves the target cursor, clamped to the log.
func (t *Timeline) Seek(o int) {
	t.offset = min(max(o, 0), len(t.entries))
	t.paused = t.offset != len(t.entries)
}

// Live jumps to the end of the log and resumes following new frames.
func (t *Timeline) Live() {
	t.offset = len(t.entries)
	t.paused = false
}

// Tick moves the drawn cursor toward the target by at most Speed frames and
// returns how many frames it applied or undid.
func (t *Timeline) Tick() int {
	steps := 0
	for t.drawn != t.offset && steps < t.speed {
		if t.drawn < t.offset {
			t.apply(t.entries[t.drawn].Frame)
			t.drawn++
		} else {
			t.drawn--
			t.undo(t.entries[t.drawn].Frame)
		}
		steps++
	}
	if steps > 0 && t.drawn == t.offset {
		t.paused = t.offset != len(t.entries)
		if t.settled != nil {
			t.settled(t.offset)
		}
	}
	return steps
}

// SettleAll ticks until the drawn cursor reaches the target.
func (t *Timeline) SettleAll() {
	for t.drawn != t.offset {
		t.Tick()
	}
}

func (t *Timeline) apply(f *frame.Frame) {
	if err := t.tiles.Tile(f.Tile).ApplyFrame(f); err != nil {
		t.log.Error("apply frame", zap.Uint16("seq", f.Sequence), zap.Error(err))
	}
}

func (t *Timeline) undo(f *frame.Frame) {
	if err := t.tiles.Tile(f.Tile).UndoFrame(f); err != nil {
		t.log.Error("undo frame", zap.Uint16("seq", f.Sequence), zap.Error(err))
	}
}

// Reset undoes every drawn frame and empties the log.
func (t *Timeline) Reset() {
	for t.drawn > 0 {
		t.drawn--
		t.undo(t.entries[t.drawn].Frame)
	}
	t.entries = nil
	t.clock = frame.TimeCheck{}
	t.high = -1
	t.offset, t.paused = 0, false
}

// Enable rebuilds the log from persisted history. Tombstones only advance the
// time base; frames that fail to decode or arrive out of order are logged and
// skipped. The target cursor ends at the newest frame; callers tick or
// SettleAll to materialize it.
func (t *Timeline) Enable(ctx context.Context, h History) error {
	t.Reset()
	var skipped int
	err := h.Scan(ctx, func(seq uint16, data []byte) error {
		t.high = max(t.high, int(seq))
		f, err := frame.Decode(data)
		if err != nil {
			skipped++
			t.log.Warn("dropping undecodable frame", zap.Uint16("seq", seq), zap.Error(err))
			return nil
		}
		if f.Deleted {
			t.clock.Observe(f)
			return nil
		}
		if err := t.Append(f); err != nil {
			skipped++
			t.log.Warn("dropping frame", zap.Uint16("seq", seq), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan history: %w", err)
	}
	t.Live()
	t.log.Info("timeline enabled", zap.Int("frames", len(t.entries)), zap.Int("skipped", skipped))
	return nil
}
