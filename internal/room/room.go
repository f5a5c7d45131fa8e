package room

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/lockauth"
	"github.com/DoyleJ11/pixel-board-backend/internal/session"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
	"github.com/DoyleJ11/pixel-board-backend/internal/timeline"
	"github.com/DoyleJ11/pixel-board-backend/internal/types"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotHolder        = errors.New("tile not locked by you")
	ErrBoardFull        = errors.New("board full")
	ErrNotAuthor        = errors.New("not the author of that frame")
	ErrNotModerator     = errors.New("not a moderator")
)

type Msg interface{ isRoomMsg() }

// Join registers a client. Every persisted frame with a sequence of at least
// Since is replayed before the Ready message.
type Join struct {
	ClientID string
	UserID   uint16
	Since    int
	Outbox   chan Outgoing
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

// SubmitFrame carries an encoded frame from the tile's lock holder.
type SubmitFrame struct {
	ClientID string
	UserID   uint16
	Data     []byte
}

func (SubmitFrame) isRoomMsg() {}

type LockTile struct {
	ClientID string
	UserID   uint16
	ReqID    string
	Tile     uint8
}

func (LockTile) isRoomMsg() {}

type ReleaseTile struct {
	ClientID string
	UserID   uint16
	ReqID    string
	Tile     uint8
}

func (ReleaseTile) isRoomMsg() {}

type UndoFrame struct {
	ClientID string
	UserID   uint16
	ReqID    string
	Sequence uint16
}

func (UndoFrame) isRoomMsg() {}

// BanUser removes the target's frames in the Ban window and blocks their
// locks until Timeout. Without a Timeout the block ends at Ban.Until, or
// never when that is zero too.
type BanUser struct {
	ClientID string
	UserID   uint16
	ReqID    string
	Ban      timeline.Ban
	Timeout  time.Time
}

func (BanUser) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

// Snapshot asks for the current resolved canvas.
type Snapshot struct {
	Reply chan *image.Paletted
}

func (Snapshot) isRoomMsg() {}

// Outgoing is one write batch for a client: encoded frames first, then the
// optional control message.
type Outgoing struct {
	Frames  [][]byte
	Message *types.ServerMessage
}

type View struct {
	NumClients int
	Frames     int
	Next       uint16
	Locks      map[uint8]uint16
}

type Config struct {
	Board      board.Config
	Store      store.Store
	Locks      lockauth.Authority
	Logger     *zap.Logger
	Moderators []uint16
	Now        func() time.Time
}

type member struct {
	user   uint16
	outbox chan Outgoing
}

// Room is the single owner of one board: it stamps, persists and broadcasts
// every accepted frame.
type Room struct {
	id      string
	cfg     Config
	board   *board.Board
	history store.BoardHistory
	locks   lockauth.Authority
	log     *zap.Logger
	now     func() time.Time

	inbox      chan Msg
	clients    map[string]member
	held       map[uint8]uint16
	moderators map[uint16]bool
	bans       []store.BanRecord

	ctx    context.Context
	cancel context.CancelFunc
}

// New loads the board's history from the store and starts the room loop.
func New(parent context.Context, cfg Config) (*Room, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	cfg.Board.Logger = log

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:         cfg.Board.ID,
		cfg:        cfg,
		history:    store.BoardHistory{Store: cfg.Store, Board: cfg.Board.ID},
		locks:      cfg.Locks,
		log:        log.With(zap.String("board", cfg.Board.ID)),
		now:        now,
		inbox:      make(chan Msg, 64),
		clients:    make(map[string]member),
		held:       make(map[uint8]uint16),
		moderators: make(map[uint16]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, id := range cfg.Moderators {
		r.moderators[id] = true
	}
	if err := r.load(); err != nil {
		cancel()
		return nil, err
	}

	go r.loop()
	return r, nil
}

// load rebuilds the board and the ban list from the store.
func (r *Room) load() error {
	b, err := board.New(r.cfg.Board)
	if err != nil {
		return err
	}
	tl := b.Timeline()
	if err := tl.Enable(r.ctx, r.history); err != nil {
		return fmt.Errorf("load board %s: %w", r.id, err)
	}
	bans, err := r.cfg.Store.Bans(r.ctx, r.id)
	if err != nil {
		return fmt.Errorf("load bans %s: %w", r.id, err)
	}
	tl.SettleAll()
	r.board = b
	r.bans = bans
	return nil
}

func (r *Room) banned(user uint16) bool {
	now := r.now()
	for _, b := range r.bans {
		if b.UserID == user && b.Active(now) {
			return true
		}
	}
	return false
}

func (r *Room) ID() string { return r.id }

// Inbox is where the ws layer and tests send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has shut down.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)

			case Leave:
				r.leave(msg.ClientID)

			case SubmitFrame:
				r.submit(msg)

			case LockTile:
				r.lockTile(msg)

			case ReleaseTile:
				r.releaseTile(msg)

			case UndoFrame:
				r.undo(msg)

			case BanUser:
				r.ban(msg)

			case GetState:
				locks := make(map[uint8]uint16, len(r.held))
				for t, u := range r.held {
					locks[t] = u
				}
				msg.Reply <- View{
					NumClients: len(r.clients),
					Frames:     r.board.Timeline().Len(),
					Next:       r.board.Timeline().NextSequence(),
					Locks:      locks,
				}

			case Snapshot:
				msg.Reply <- r.board.Image(false)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	for id, m := range r.clients {
		close(m.outbox)
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) join(msg Join) {
	var replay [][]byte
	since := max(msg.Since, 0)
	err := r.history.Scan(r.ctx, func(seq uint16, data []byte) error {
		if int(seq) >= since {
			replay = append(replay, data)
		}
		return nil
	})
	if err != nil {
		r.log.Error("replay history", zap.Error(err))
	}
	r.clients[msg.ClientID] = member{user: msg.UserID, outbox: msg.Outbox}
	r.send(msg.ClientID, Outgoing{Frames: replay, Message: &types.ServerMessage{
		Type:     types.MsgReady,
		Sequence: int(r.board.Timeline().NextSequence()),
	}})
	for t, u := range r.held {
		r.send(msg.ClientID, Outgoing{Message: &types.ServerMessage{
			Type: types.MsgTileLocked, Tile: types.TileRef(t), UserID: u,
		}})
	}
}

// leave drops the client and, if it was the user's last connection, the
// user's tile lock.
func (r *Room) leave(id string) {
	m, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	for _, other := range r.clients {
		if other.user == m.user {
			return
		}
	}
	for t, u := range r.held {
		if u == m.user {
			if err := r.release(t, u, true); err != nil {
				r.log.Warn("release on leave", zap.Uint8("tile", t), zap.Error(err))
			}
		}
	}
}

func (r *Room) submit(msg SubmitFrame) {
	f, err := frame.Decode(msg.Data)
	if err != nil {
		r.log.Warn("dropping undecodable frame", zap.String("client", msg.ClientID), zap.Error(err))
		r.fail(msg.ClientID, "", "", err)
		return
	}
	hash, err := f.HashString()
	if err != nil {
		r.fail(msg.ClientID, "", "", err)
		return
	}
	if msg.UserID == 0 {
		r.fail(msg.ClientID, "", hash, ErrNotAuthenticated)
		return
	}
	tl := r.board.Timeline()
	if f.Deleted {
		r.fail(msg.ClientID, "", hash, timeline.ErrDeleted)
		return
	}
	if r.board.Tile(f.Tile) == nil {
		r.fail(msg.ClientID, "", hash, timeline.ErrUnknownTile)
		return
	}
	holder, ok, err := r.locks.Holder(r.ctx, r.id, f.Tile.ID())
	if err != nil {
		r.fail(msg.ClientID, "", hash, err)
		return
	}
	if !ok || holder != msg.UserID {
		r.fail(msg.ClientID, "", hash, ErrNotHolder)
		return
	}
	if tl.Full() {
		r.fail(msg.ClientID, "", hash, ErrBoardFull)
		return
	}

	clock := tl.TimeCheck()
	ts, base := clock.Stamp(r.now())
	accepted := f.Stamp(msg.UserID, tl.NextSequence(), ts, base)
	data, err := accepted.Bytes()
	if err != nil {
		r.fail(msg.ClientID, "", hash, err)
		return
	}
	if err := r.history.Put(r.ctx, accepted.Sequence, data); err != nil {
		r.log.Error("persist frame", zap.Uint16("seq", accepted.Sequence), zap.Error(err))
		r.fail(msg.ClientID, "", hash, err)
		return
	}
	if err := tl.Append(accepted); err != nil {
		r.log.Error("append accepted frame", zap.Uint16("seq", accepted.Sequence), zap.Error(err))
		return
	}
	tl.SettleAll()
	r.log.Debug("frame accepted",
		zap.Uint16("seq", accepted.Sequence),
		zap.Uint16("user", msg.UserID),
		zap.Uint8("tile", f.Tile.ID()))

	if err := r.release(f.Tile.ID(), msg.UserID, false); err != nil {
		r.log.Warn("release after commit", zap.Uint8("tile", f.Tile.ID()), zap.Error(err))
	}
	r.broadcast(Outgoing{Frames: [][]byte{data}})
}

func (r *Room) lockTile(msg LockTile) {
	deny := func(reason session.Reason) {
		r.send(msg.ClientID, Outgoing{Message: &types.ServerMessage{
			Type: types.MsgLockDenied, ReqID: msg.ReqID, Tile: types.TileRef(msg.Tile), Reason: string(reason),
		}})
	}
	switch {
	case msg.UserID == 0:
		deny(session.ReasonNotAuthenticated)
		return
	case r.banned(msg.UserID):
		deny(session.ReasonBanned)
		return
	case r.board.Tile(frame.CoordFromID(msg.Tile)) == nil:
		r.fail(msg.ClientID, msg.ReqID, "", timeline.ErrUnknownTile)
		return
	}

	err := r.locks.Acquire(r.ctx, r.id, msg.Tile, msg.UserID)
	switch {
	case errors.Is(err, lockauth.ErrLocked):
		deny(session.ReasonAlreadyLocked)
		return
	case errors.Is(err, lockauth.ErrRateLimited):
		deny(session.ReasonRateLimited)
		return
	case err != nil:
		r.log.Error("acquire lock", zap.Uint8("tile", msg.Tile), zap.Error(err))
		r.fail(msg.ClientID, msg.ReqID, "", err)
		return
	}

	// the authority dropped whatever this user held before
	for t, u := range r.held {
		if u == msg.UserID && t != msg.Tile {
			delete(r.held, t)
			r.broadcast(Outgoing{Message: &types.ServerMessage{
				Type: types.MsgTileReleased, Tile: types.TileRef(t), UserID: u,
			}})
		}
	}
	r.held[msg.Tile] = msg.UserID
	r.send(msg.ClientID, Outgoing{Message: &types.ServerMessage{
		Type: types.MsgLockGranted, ReqID: msg.ReqID, Tile: types.TileRef(msg.Tile),
	}})
	r.broadcast(Outgoing{Message: &types.ServerMessage{
		Type: types.MsgTileLocked, Tile: types.TileRef(msg.Tile), UserID: msg.UserID,
	}})
}

func (r *Room) releaseTile(msg ReleaseTile) {
	if err := r.release(msg.Tile, msg.UserID, true); err != nil {
		r.fail(msg.ClientID, msg.ReqID, "", err)
		return
	}
	r.send(msg.ClientID, Outgoing{Message: &types.ServerMessage{
		Type: types.MsgReleased, ReqID: msg.ReqID, Tile: types.TileRef(msg.Tile),
	}})
}

// release gives the tile back. A release without a commit refunds the
// user's edit credit.
func (r *Room) release(tile uint8, user uint16, refund bool) error {
	err := r.locks.Release(r.ctx, r.id, tile, user)
	switch {
	case errors.Is(err, lockauth.ErrNotLocked), errors.Is(err, lockauth.ErrExpired):
	case err != nil:
		return err
	}
	if refund {
		if l, ok := r.locks.(*lockauth.Limited); ok {
			l.Refund(user)
		}
	}
	if r.held[tile] == user {
		delete(r.held, tile)
		r.broadcast(Outgoing{Message: &types.ServerMessage{
			Type: types.MsgTileReleased, Tile: types.TileRef(tile), UserID: user,
		}})
	}
	return nil
}

func (r *Room) undo(msg UndoFrame) {
	tl := r.board.Timeline()
	f, ok := tl.FrameBySequence(msg.Sequence)
	if !ok {
		r.fail(msg.ClientID, msg.ReqID, "", timeline.ErrUnknownFrame)
		return
	}
	if f.Author != msg.UserID && !r.moderators[msg.UserID] {
		r.fail(msg.ClientID, msg.ReqID, "", ErrNotAuthor)
		return
	}
	removed, err := tl.Remove(msg.Sequence)
	r.publish(removed, err)
}

func (r *Room) ban(msg BanUser) {
	if !r.moderators[msg.UserID] {
		r.fail(msg.ClientID, msg.ReqID, "", ErrNotModerator)
		return
	}
	target := msg.Ban.UserID
	rec := store.BanRecord{
		UserID:  target,
		By:      msg.UserID,
		Since:   msg.Ban.Since,
		Until:   msg.Ban.Until,
		Expires: msg.Timeout,
		At:      r.now(),
	}
	if rec.Expires.IsZero() {
		rec.Expires = msg.Ban.Until
	}
	if err := r.cfg.Store.PutBan(r.ctx, r.id, rec); err != nil {
		r.log.Error("persist ban", zap.Uint16("user", target), zap.Error(err))
		r.fail(msg.ClientID, msg.ReqID, "", err)
		return
	}
	r.bans = append(r.bans, rec)
	if r.banned(target) {
		for t, u := range r.held {
			if u == target {
				if err := r.release(t, u, false); err != nil {
					r.log.Warn("release banned user's lock", zap.Uint8("tile", t), zap.Error(err))
				}
			}
		}
	}
	removed, err := r.board.Timeline().Ban(msg.Ban)
	r.log.Info("user banned", zap.Uint16("user", target), zap.Uint16("by", msg.UserID), zap.Int("frames", len(removed)))
	r.publish(removed, err)
}

// publish persists and broadcasts tombstones. If the excision or any write
// failed, the board is rebuilt from the store.
func (r *Room) publish(removed []*frame.Frame, excErr error) {
	failed := excErr != nil
	if failed {
		r.log.Error("excise frames", zap.Error(excErr))
	}
	var out [][]byte
	for _, t := range removed {
		data, err := t.Bytes()
		if err == nil {
			err = r.history.Put(r.ctx, t.Sequence, data)
		}
		if err != nil {
			r.log.Error("persist tombstone", zap.Uint16("seq", t.Sequence), zap.Error(err))
			failed = true
			continue
		}
		out = append(out, data)
	}
	if failed {
		if err := r.load(); err != nil {
			r.log.Error("rebuild board", zap.Error(err))
		}
	}
	if len(out) > 0 {
		r.broadcast(Outgoing{Frames: out})
	}
}

func (r *Room) fail(clientID, reqID, hash string, err error) {
	r.send(clientID, Outgoing{Message: &types.ServerMessage{
		Type: types.MsgError, ReqID: reqID, Hash: hash, Error: err.Error(),
	}})
}

func (r *Room) send(id string, out Outgoing) {
	m, ok := r.clients[id]
	if !ok {
		return
	}
	select {
	case m.outbox <- out:
	default:
		// Client is slow/full - drop them.
		close(m.outbox)
		delete(r.clients, id)
	}
}

func (r *Room) broadcast(out Outgoing) {
	for id := range r.clients {
		r.send(id, out)
	}
}
