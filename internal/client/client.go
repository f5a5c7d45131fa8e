package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/session"
	"github.com/DoyleJ11/pixel-board-backend/internal/types"
)

var (
	ErrClosed   = errors.New("client: connection closed")
	ErrRejected = errors.New("client: rejected by server")
)

// Client is a board connection. It implements session.LockAuthority and
// session.Transport, and hands every frame the server sends to Frames.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan types.ServerMessage // by request id
	acks    map[string]chan ack                 // by content hash

	frames chan *frame.Frame
	events chan types.ServerMessage
	ready  chan uint16

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

type ack struct {
	frame *frame.Frame
	err   error
}

var (
	_ session.LockAuthority = (*Client)(nil)
	_ session.Transport     = (*Client)(nil)
)

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithFrameBuffer sizes the Frames channel. The read loop blocks when it is
// full.
func WithFrameBuffer(n int) Option {
	return func(c *Client) { c.frames = make(chan *frame.Frame, n) }
}

// URL builds the websocket address of a board.
func URL(base, board string, user uint16, since int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("board", board)
	q.Set("user", strconv.Itoa(int(user)))
	q.Set("since", strconv.Itoa(since))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Client{
		conn:    conn,
		log:     zap.NewNop(),
		pending: make(map[string]chan types.ServerMessage),
		acks:    make(map[string]chan ack),
		frames:  make(chan *frame.Frame, 256),
		events:  make(chan types.ServerMessage, 64),
		ready:   make(chan uint16, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop()
	return c, nil
}

// Frames delivers accepted frames and tombstones in arrival order, for
// timeline.Receive.
func (c *Client) Frames() <-chan *frame.Frame { return c.frames }

// Events delivers lock broadcasts (TileLocked, TileReleased) and errors not
// tied to a request. Events are dropped when nobody reads them.
func (c *Client) Events() <-chan types.ServerMessage { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Ready waits for the end of the history replay and returns the sequence the
// board will assign next.
func (c *Client) Ready(ctx context.Context) (uint16, error) {
	select {
	case seq := <-c.ready:
		return seq, nil
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) RequestLock(ctx context.Context, tile frame.Coord) error {
	m, err := c.request(ctx, types.ClientMessage{Type: types.MsgLockTile, Tile: types.TileRef(tile.ID())})
	if err != nil {
		return err
	}
	switch m.Type {
	case types.MsgLockGranted:
		return nil
	case types.MsgLockDenied:
		return &session.DeniedError{Reason: session.Reason(m.Reason)}
	}
	return fmt.Errorf("%w: %s", ErrRejected, m.Error)
}

func (c *Client) ReleaseLock(ctx context.Context, tile frame.Coord) error {
	m, err := c.request(ctx, types.ClientMessage{Type: types.MsgReleaseTile, Tile: types.TileRef(tile.ID())})
	if err != nil {
		return err
	}
	if m.Type != types.MsgReleased {
		return fmt.Errorf("%w: %s", ErrRejected, m.Error)
	}
	return nil
}

// SendFrame submits f and waits for the accepted frame with the same content
// hash.
func (c *Client) SendFrame(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	data, err := f.Bytes()
	if err != nil {
		return nil, err
	}
	hash, err := f.HashString()
	if err != nil {
		return nil, err
	}
	ch := make(chan ack, 1)
	c.mu.Lock()
	c.acks[hash] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, hash)
		c.mu.Unlock()
	}()

	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	select {
	case a := <-ch:
		return a.frame, a.err
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Undo asks the server to remove one of the user's frames. Success shows up
// as a tombstone on Frames.
func (c *Client) Undo(ctx context.Context, seq uint16) error {
	return c.write(ctx, types.ClientMessage{Type: types.MsgUndoFrame, ReqID: uuid.NewString(), Sequence: int(seq)})
}

// Ban removes a user's frames in a time window. Moderators only.
func (c *Client) Ban(ctx context.Context, msg types.ClientMessage) error {
	msg.Type = types.MsgBanUser
	msg.ReqID = uuid.NewString()
	return c.write(ctx, msg)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) request(ctx context.Context, m types.ClientMessage) (types.ServerMessage, error) {
	m.ReqID = uuid.NewString()
	ch := make(chan types.ServerMessage, 1)
	c.mu.Lock()
	c.pending[m.ReqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ReqID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, m); err != nil {
		return types.ServerMessage{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return types.ServerMessage{}, ErrClosed
	case <-ctx.Done():
		return types.ServerMessage{}, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, m types.ClientMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	ctx := context.Background()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.err = err
			return
		}
		if typ == websocket.MessageBinary {
			if !c.onFrame(data) {
				c.err = ErrClosed
				return
			}
			continue
		}
		var m types.ServerMessage
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.Warn("dropping bad server message", zap.Error(err))
			continue
		}
		c.onMessage(m)
	}
}

// onFrame returns false if the client was closed while Frames was full.
func (c *Client) onFrame(data []byte) bool {
	f, err := frame.Decode(data)
	if err != nil {
		c.log.Warn("dropping undecodable frame", zap.Int("len", len(data)), zap.Error(err))
		return true
	}
	if !f.Deleted {
		if hash, err := f.HashString(); err == nil {
			c.mu.Lock()
			ch := c.acks[hash]
			delete(c.acks, hash)
			c.mu.Unlock()
			if ch != nil {
				ch <- ack{frame: f}
			}
		}
	}
	select {
	case c.frames <- f:
		return true
	case <-c.closing:
		return false
	}
}

func (c *Client) onMessage(m types.ServerMessage) {
	switch {
	case m.Type == types.MsgReady:
		select {
		case c.ready <- uint16(m.Sequence):
		default:
		}
		return

	case m.ReqID != "":
		c.mu.Lock()
		ch := c.pending[m.ReqID]
		c.mu.Unlock()
		if ch != nil {
			ch <- m
			return
		}

	case m.Type == types.MsgError && m.Hash != "":
		c.mu.Lock()
		ch := c.acks[m.Hash]
		delete(c.acks, m.Hash)
		c.mu.Unlock()
		if ch != nil {
			ch <- ack{err: fmt.Errorf("%w: %s", ErrRejected, m.Error)}
			return
		}
	}

	select {
	case c.events <- m:
	default:
		c.log.Debug("dropping event", zap.String("type", m.Type))
	}
}
