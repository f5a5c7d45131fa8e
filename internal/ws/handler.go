package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/hub"
	"github.com/DoyleJ11/pixel-board-backend/internal/room"
	"github.com/DoyleJ11/pixel-board-backend/internal/timeline"
	"github.com/DoyleJ11/pixel-board-backend/internal/types"
)

const (
	// ReadLimit caps one inbound message. An encoded frame is a few hundred
	// bytes at most.
	ReadLimit    = 4096
	outboxSize   = 64
	writeTimeout = 3 * time.Second
)

var (
	errBadJSON     = errors.New("bad json")
	errUnknownType = errors.New("unknown type")
	errMissingTile = errors.New("missing tile")
	errBadSequence = errors.New("sequence out of range")
	errMissingBan  = errors.New("ban needs userId and since")
)

type Options struct {
	Logger *zap.Logger
	// PingInterval is how often idle connections are checked. Zero disables
	// pings.
	PingInterval   time.Duration
	OriginPatterns []string
}

// Handler serves /ws?board=&user=&since=. Binary messages are encoded
// frames; text messages are JSON control messages.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		boardID := q.Get("board")
		if !hub.ValidID(boardID) {
			http.Error(w, "missing or invalid board", http.StatusBadRequest)
			return
		}
		user, err := parseUint16(q.Get("user"))
		if err != nil {
			http.Error(w, "invalid user", http.StatusBadRequest)
			return
		}
		since, err := parseUint16(q.Get("since"))
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.EnsureRoom{ID: boardID, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "board unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept websocket", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(ReadLimit)

		clientID := uuid.NewString()
		clog := log.With(zap.String("client", clientID), zap.String("board", boardID), zap.Uint16("user", user))
		clog.Info("client connected")

		out := make(chan room.Outgoing, outboxSize)
		rm.Inbox() <- room.Join{ClientID: clientID, UserID: user, Since: int(since), Outbox: out}
		defer func() {
			select {
			case rm.Inbox() <- room.Leave{ClientID: clientID}:
			case <-rm.Done():
			}
			clog.Info("client disconnected")
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out, opts.PingInterval, clog)

		// Reader loop
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read", zap.Error(err))
				}
				return
			}

			if typ == websocket.MessageBinary {
				if !deliver(rm, room.SubmitFrame{ClientID: clientID, UserID: user, Data: data}) {
					return
				}
				continue
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "", errBadJSON)
				continue
			}
			msg, err := toRoomMsg(clientID, user, cm)
			if err != nil {
				writeError(r.Context(), conn, cm.ReqID, err)
				continue
			}
			if !deliver(rm, msg) {
				return
			}
		}
	}
}

// deliver reports false once the room has shut down.
func deliver(rm *room.Room, msg room.Msg) bool {
	select {
	case rm.Inbox() <- msg:
		return true
	case <-rm.Done():
		return false
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan room.Outgoing, ping time.Duration, log *zap.Logger) {
	var tick <-chan time.Time
	if ping > 0 {
		t := time.NewTicker(ping)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return

		case <-tick:
			pctx, cancel := context.WithTimeout(ctx, ping)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("ping", zap.Error(err))
				conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}

		case batch, ok := <-out:
			if !ok {
				// dropped by the room for falling behind, or the room shut down
				conn.Close(websocket.StatusTryAgainLater, "dropped")
				return
			}
			if err := writeBatch(ctx, conn, batch); err != nil {
				log.Debug("write", zap.Error(err))
				return
			}
		}
	}
}

func writeBatch(ctx context.Context, conn *websocket.Conn, batch room.Outgoing) error {
	for _, data := range batch.Frames {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageBinary, data)
		cancel()
		if err != nil {
			return err
		}
	}
	if batch.Message == nil {
		return nil
	}
	payload, err := json.Marshal(batch.Message)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func writeError(ctx context.Context, conn *websocket.Conn, reqID string, err error) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgError, ReqID: reqID, Error: err.Error()})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func toRoomMsg(clientID string, user uint16, m types.ClientMessage) (room.Msg, error) {
	switch m.Type {
	case types.MsgLockTile:
		if m.Tile == nil {
			return nil, errMissingTile
		}
		return room.LockTile{ClientID: clientID, UserID: user, ReqID: m.ReqID, Tile: *m.Tile}, nil
	case types.MsgReleaseTile:
		if m.Tile == nil {
			return nil, errMissingTile
		}
		return room.ReleaseTile{ClientID: clientID, UserID: user, ReqID: m.ReqID, Tile: *m.Tile}, nil
	case types.MsgUndoFrame:
		if m.Sequence < 0 || m.Sequence > math.MaxUint16 {
			return nil, errBadSequence
		}
		return room.UndoFrame{ClientID: clientID, UserID: user, ReqID: m.ReqID, Sequence: uint16(m.Sequence)}, nil
	case types.MsgBanUser:
		if m.UserID == 0 || m.Since == nil {
			return nil, errMissingBan
		}
		ban := timeline.Ban{UserID: m.UserID, Since: *m.Since}
		if m.Until != nil {
			ban.Until = *m.Until
		}
		msg := room.BanUser{ClientID: clientID, UserID: user, ReqID: m.ReqID, Ban: ban}
		if m.Timeout != nil {
			msg.Timeout = *m.Timeout
		}
		return msg, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownType, m.Type)
}

func parseUint16(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}
