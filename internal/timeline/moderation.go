package timeline

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
)

// Ban removes a user's frames accepted within [Since, Until]. A zero Until
// has no upper bound.
type Ban struct {
	UserID uint16
	Since  time.Time
	Until  time.Time
}

func (b Ban) covers(e Entry) bool {
	if e.Frame.Author != b.UserID || e.Time.Before(b.Since) {
		return false
	}
	return b.Until.IsZero() || !e.Time.After(b.Until)
}

// Ban excises the banned frames and returns their tombstones for
// persistence and broadcast.
func (t *Timeline) Ban(b Ban) ([]*frame.Frame, error) {
	start := sort.Search(len(t.entries), func(i int) bool {
		return !t.entries[i].Time.Before(b.Since)
	})
	return t.excise(start, b.covers)
}

// Remove excises the frame with the given sequence number.
func (t *Timeline) Remove(seq uint16) ([]*frame.Frame, error) {
	i, ok := t.index(seq)
	if !ok {
		return nil, ErrUnknownFrame
	}
	return t.excise(i, func(e Entry) bool { return e.Frame.Sequence == seq })
}

// excise undoes the drawn frames back to start, drops the entries matching
// drop and re-applies the rest forward. Re-applied frames are fresh copies so
// they capture the colors now beneath them.
func (t *Timeline) excise(start int, drop func(Entry) bool) ([]*frame.Frame, error) {
	var (
		kept    []Entry
		removed []*frame.Frame
		beforeD int
		beforeO int
	)
	for i := start; i < len(t.entries); i++ {
		e := t.entries[i]
		if drop(e) {
			removed = append(removed, e.Frame.Tombstone())
			if i < t.drawn {
				beforeD++
			}
			if i < t.offset {
				beforeO++
			}
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	target := t.drawn - beforeD
	for t.drawn > start {
		t.drawn--
		f := t.entries[t.drawn].Frame
		if err := t.tiles.Tile(f.Tile).UndoFrame(f); err != nil {
			return removed, fmt.Errorf("%w: undo %d: %v", ErrInconsistent, f.Sequence, err)
		}
	}

	for i := range kept {
		kept[i].Frame = kept[i].Frame.Fresh()
	}
	t.entries = append(t.entries[:start], kept...)
	t.offset -= beforeO
	if !t.paused {
		t.offset = len(t.entries)
	}

	for t.drawn < target {
		f := t.entries[t.drawn].Frame
		if err := t.tiles.Tile(f.Tile).ApplyFrame(f); err != nil {
			return removed, fmt.Errorf("%w: apply %d: %v", ErrInconsistent, f.Sequence, err)
		}
		t.drawn++
	}
	t.log.Info("excised frames",
		zap.Int("removed", len(removed)),
		zap.Int("from", start),
		zap.Int("len", len(t.entries)))
	return removed, nil
}
