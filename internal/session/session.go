package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/tile"
)

// DefaultReleaseTimeout bounds the background release started by Cancel.
const DefaultReleaseTimeout = 5 * time.Second

var (
	ErrNotLocked    = errors.New("session: tile is not locked")
	ErrInTransition = errors.New("session: lock transition in progress")
	ErrCancelled    = errors.New("session: cancelled while locking")
)

// LockAuthority grants exclusive edit ownership of a tile.
type LockAuthority interface {
	// RequestLock returns nil when granted and a *DeniedError when refused.
	RequestLock(ctx context.Context, tile frame.Coord) error
	ReleaseLock(ctx context.Context, tile frame.Coord) error
}

// Transport carries committed frames to the board authority. SendFrame
// returns once the accepted frame with the same content hash comes back.
type Transport interface {
	SendFrame(ctx context.Context, f *frame.Frame) (*frame.Frame, error)
}

type Reason string

const (
	ReasonAlreadyLocked    Reason = "already locked"
	ReasonNotAuthenticated Reason = "not authenticated"
	ReasonBanned           Reason = "banned"
	ReasonRateLimited      Reason = "rate limited"
	ReasonUnknown          Reason = "unknown"
)

// DeniedError is a refused lock request. It is not retried.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string { return fmt.Sprintf("lock denied: %s", e.Reason) }

type State int

const (
	Unlocked State = iota
	Locked
	Committing
	RollingBack
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	case Committing:
		return "committing"
	case RollingBack:
		return "rolling back"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the local side of one tile's lock: it owns the tile's edit
// buffer between a granted lock and the following commit or rollback.
//
// Tile reads and writes made here must not race with frames being applied
// to the same tile; callers run both on the board's update loop.
type Session struct {
	mu        sync.Mutex
	tile      *tile.Tile
	locks     LockAuthority
	transport Transport
	log       *zap.Logger

	state   State
	locking bool
	abandon bool
	last    tile.Point

	releaseTimeout time.Duration
	bg             sync.WaitGroup
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithReleaseTimeout(d time.Duration) Option {
	return func(s *Session) { s.releaseTimeout = d }
}

func New(t *tile.Tile, locks LockAuthority, transport Transport, opts ...Option) *Session {
	s := &Session{
		tile:           t,
		locks:          locks,
		transport:      transport,
		log:            zap.NewNop(),
		last:           tile.NoPoint,
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.Uint8("tile", t.Coord().ID()))
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Tile() *tile.Tile { return s.tile }

// Lock asks the authority for the tile. On denial the session stays
// Unlocked and the *DeniedError is returned.
func (s *Session) Lock(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == Locked:
		s.mu.Unlock()
		return nil
	case s.state != Unlocked || s.locking:
		s.mu.Unlock()
		return ErrInTransition
	}
	s.locking, s.abandon = true, false
	s.mu.Unlock()

	err := s.locks.RequestLock(ctx, s.tile.Coord())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.locking = false
	if err != nil {
		return err
	}
	if s.abandon {
		s.releaseAsync()
		return ErrCancelled
	}
	s.state = Locked
	s.last = tile.NoPoint
	s.tile.Lock()
	return nil
}

// Set writes a tentative value. Ignored unless Locked.
func (s *Session) Set(p tile.Point, c palette.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Locked {
		s.tile.Set(p, c)
	}
}

// Clear drops the tentative value at p. Ignored unless Locked.
func (s *Session) Clear(p tile.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Locked {
		s.tile.Clear(p)
	}
}

// Stroke paints from the previous pointer sample to p.
func (s *Session) Stroke(p tile.Point, c palette.Index, brush tile.Brush) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Locked {
		return
	}
	s.tile.Stroke(s.last, p, c, brush)
	s.last = p
}

// Erase clears tentative edits from the previous pointer sample to p.
func (s *Session) Erase(p tile.Point, brush tile.Brush) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Locked {
		return
	}
	s.tile.Erase(s.last, p, brush)
	s.last = p
}

// EndStroke forgets the previous pointer sample.
func (s *Session) EndStroke() {
	s.mu.Lock()
	s.last = tile.NoPoint
	s.mu.Unlock()
}

// Commit turns the buffer into a frame and sends it. With no edits it rolls
// back instead and returns a nil frame. The buffer is cleared before the
// transport is called and the session stays Committing until it returns;
// the tile is not changed until the accepted frame arrives on the board's
// normal path.
func (s *Session) Commit(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	if s.state != Locked {
		s.mu.Unlock()
		return nil, ErrNotLocked
	}
	f, ok := s.tile.BuildFrame()
	if !ok {
		s.mu.Unlock()
		return nil, s.Rollback(ctx)
	}
	s.tile.Unlock()
	s.state = Committing
	s.mu.Unlock()

	ack, err := s.transport.SendFrame(ctx, f)

	s.mu.Lock()
	s.state = Unlocked
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("frame not acknowledged", zap.Error(err))
		return nil, fmt.Errorf("send frame: %w", err)
	}
	return ack, nil
}

// Rollback discards the buffer and releases the lock. It is a no-op unless
// Locked.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Locked {
		s.mu.Unlock()
		return nil
	}
	s.tile.Unlock()
	s.state = RollingBack
	s.mu.Unlock()

	err := s.locks.ReleaseLock(ctx, s.tile.Coord())

	s.mu.Lock()
	s.state = Unlocked
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Cancel is the fire-and-forget rollback used when the editor goes away.
// The buffer is discarded before Cancel returns; the release round trip
// runs in the background.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locking {
		s.abandon = true
		return
	}
	if s.state != Locked {
		return
	}
	s.tile.Unlock()
	s.state = Unlocked
	s.releaseAsync()
}

// releaseAsync must be called with mu held.
func (s *Session) releaseAsync() {
	coord := s.tile.Coord()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.releaseTimeout)
		defer cancel()
		if err := s.locks.ReleaseLock(ctx, coord); err != nil {
			s.log.Warn("background release failed", zap.Error(err))
		}
	}()
}

// Close waits for background releases to finish.
func (s *Session) Close() {
	s.bg.Wait()
}
