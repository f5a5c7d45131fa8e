package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/tile"
)

// fakeLocks is a shared lock table; each client gets its own view.
type fakeLocks struct {
	mu       sync.Mutex
	owner    map[frame.Coord]int
	releases chan frame.Coord
	gate     chan struct{}
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{owner: make(map[frame.Coord]int), releases: make(chan frame.Coord, 16)}
}

type lockView struct {
	table *fakeLocks
	user  int
}

func (v lockView) RequestLock(ctx context.Context, c frame.Coord) error {
	if v.table.gate != nil {
		select {
		case <-v.table.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	if v.user == 0 {
		return &DeniedError{Reason: ReasonNotAuthenticated}
	}
	if o, ok := v.table.owner[c]; ok && o != v.user {
		return &DeniedError{Reason: ReasonAlreadyLocked}
	}
	v.table.owner[c] = v.user
	return nil
}

func (v lockView) ReleaseLock(ctx context.Context, c frame.Coord) error {
	v.table.mu.Lock()
	if v.table.owner[c] == v.user {
		delete(v.table.owner, c)
	}
	v.table.mu.Unlock()
	v.table.releases <- c
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []*frame.Frame
	err  error
}

func (t *fakeTransport) SendFrame(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, f)
	if t.err != nil {
		return nil, t.err
	}
	return f.Stamp(1, uint16(len(t.sent)), 1, 0), nil
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func recvRelease(t *testing.T, ch <-chan frame.Coord) frame.Coord {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for release")
		return frame.Coord{}
	}
}

var coord = frame.Coord{Row: 1, Col: 2}

func newSession(t *testing.T, locks *fakeLocks, user int, tr Transport) *Session {
	t.Helper()
	return New(tile.New(coord), lockView{table: locks, user: user}, tr, WithLogger(zaptest.NewLogger(t)))
}

func TestLock_Exclusive(t *testing.T) {
	locks := newFakeLocks()
	locks.gate = make(chan struct{})
	a := newSession(t, locks, 1, &fakeTransport{})
	b := newSession(t, locks, 2, &fakeTransport{})

	errs := make(chan error, 2)
	for _, s := range []*Session{a, b} {
		go func(s *Session) { errs <- s.Lock(context.Background()) }(s)
	}
	close(locks.gate)

	var granted, denied int
	for i := 0; i < 2; i++ {
		err := <-errs
		var d *DeniedError
		switch {
		case err == nil:
			granted++
		case errors.As(err, &d):
			assert.Equal(t, ReasonAlreadyLocked, d.Reason)
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, granted)
	assert.Equal(t, 1, denied)
	assert.ElementsMatch(t, []State{Locked, Unlocked}, []State{a.State(), b.State()})
}

func TestLock_DeniedStaysUnlocked(t *testing.T) {
	s := newSession(t, newFakeLocks(), 0, &fakeTransport{})
	err := s.Lock(context.Background())

	var d *DeniedError
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonNotAuthenticated, d.Reason)
	assert.Equal(t, Unlocked, s.State())

	s.Set(tile.Point{Row: 0, Col: 0}, 3)
	assert.False(t, s.Tile().HasEdits())
}

func TestCommit_EmptyIsRollback(t *testing.T) {
	locks := newFakeLocks()
	tr := &fakeTransport{}
	s := newSession(t, locks, 1, tr)
	require.NoError(t, s.Lock(context.Background()))

	f, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Zero(t, tr.calls())
	assert.Equal(t, Unlocked, s.State())
	assert.Equal(t, coord, recvRelease(t, locks.releases))
}

func TestCommit_SendsFrameWithoutApplying(t *testing.T) {
	locks := newFakeLocks()
	tr := &fakeTransport{}
	s := newSession(t, locks, 1, tr)
	require.NoError(t, s.Lock(context.Background()))
	require.Equal(t, Locked, s.State())

	s.Stroke(tile.Point{Row: 0, Col: 0}, 4, tile.BrushPixel)
	s.Stroke(tile.Point{Row: 0, Col: 3}, 4, tile.BrushPixel)
	s.EndStroke()
	s.Set(tile.Point{Row: 9, Col: 9}, 2)
	s.Clear(tile.Point{Row: 0, Col: 0})

	ack, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ack)
	require.Equal(t, 1, tr.calls())

	sent := tr.sent[0]
	assert.Equal(t, []int{1, 2, 3, 9*16 + 9}, sent.Mask.Slice())
	assert.Equal(t, []palette.Index{4, 4, 4, 2}, sent.Colors)

	h1, _ := sent.Hash()
	h2, _ := ack.Hash()
	assert.Equal(t, h1, h2)

	assert.Equal(t, Unlocked, s.State())
	assert.False(t, s.Tile().HasEdits())
	assert.Equal(t, palette.Index(0), s.Tile().Resolved(tile.Point{Row: 0, Col: 1}), "no optimistic apply")
}

func TestCommit_TransportFailure(t *testing.T) {
	tr := &fakeTransport{err: errors.New("timeout")}
	s := newSession(t, newFakeLocks(), 1, tr)
	require.NoError(t, s.Lock(context.Background()))
	s.Set(tile.Point{Row: 1, Col: 1}, 5)

	_, err := s.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, Unlocked, s.State())
	assert.False(t, s.Tile().HasEdits())
}

// gatedTransport holds SendFrame until release is closed.
type gatedTransport struct {
	entered chan struct{}
	release chan struct{}
}

func (t *gatedTransport) SendFrame(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	close(t.entered)
	<-t.release
	return f, nil
}

func TestCommit_CommittingUntilSent(t *testing.T) {
	tr := &gatedTransport{entered: make(chan struct{}), release: make(chan struct{})}
	s := newSession(t, newFakeLocks(), 1, tr)
	require.NoError(t, s.Lock(context.Background()))
	s.Set(tile.Point{Row: 4, Col: 4}, 2)

	done := make(chan error, 1)
	go func() {
		_, err := s.Commit(context.Background())
		done <- err
	}()
	select {
	case <-tr.entered:
	case <-time.After(time.Second):
		t.Fatal("transport not called")
	}
	assert.Equal(t, Committing, s.State())
	assert.False(t, s.Tile().HasEdits(), "buffer is cleared before sending")
	assert.ErrorIs(t, s.Lock(context.Background()), ErrInTransition)

	close(tr.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("commit did not return")
	}
	assert.Equal(t, Unlocked, s.State())
}

func TestCommit_NotLocked(t *testing.T) {
	s := newSession(t, newFakeLocks(), 1, &fakeTransport{})
	_, err := s.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNotLocked)
}

func TestRollback(t *testing.T) {
	locks := newFakeLocks()
	s := newSession(t, locks, 1, &fakeTransport{})
	require.NoError(t, s.Rollback(context.Background()), "no-op while unlocked")

	require.NoError(t, s.Lock(context.Background()))
	s.Set(tile.Point{Row: 2, Col: 2}, 7)
	require.NoError(t, s.Rollback(context.Background()))

	assert.Equal(t, Unlocked, s.State())
	assert.False(t, s.Tile().HasEdits())
	assert.Equal(t, coord, recvRelease(t, locks.releases))

	// relocking starts from a clean buffer
	require.NoError(t, s.Lock(context.Background()))
	assert.False(t, s.Tile().HasEdits())
}

func TestCancel_ClearsImmediately(t *testing.T) {
	locks := newFakeLocks()
	s := newSession(t, locks, 1, &fakeTransport{})
	require.NoError(t, s.Lock(context.Background()))
	s.Set(tile.Point{Row: 3, Col: 3}, 1)

	s.Cancel()
	assert.Equal(t, Unlocked, s.State())
	assert.False(t, s.Tile().HasEdits())

	s.Set(tile.Point{Row: 3, Col: 3}, 1)
	assert.False(t, s.Tile().HasEdits(), "edits after cancel are ignored")

	assert.Equal(t, coord, recvRelease(t, locks.releases))
	s.Close()
}

func TestCancel_WhileLocking(t *testing.T) {
	locks := newFakeLocks()
	locks.gate = make(chan struct{})
	s := newSession(t, locks, 1, &fakeTransport{})

	errc := make(chan error, 1)
	go func() { errc <- s.Lock(context.Background()) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.locking
	}, time.Second, time.Millisecond)
	s.Cancel()
	close(locks.gate)

	assert.ErrorIs(t, <-errc, ErrCancelled)
	assert.Equal(t, Unlocked, s.State())
	assert.Equal(t, coord, recvRelease(t, locks.releases))
	s.Close()
}
