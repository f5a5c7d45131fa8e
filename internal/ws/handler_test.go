package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/bitmask"
	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/hub"
	"github.com/DoyleJ11/pixel-board-backend/internal/lockauth"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
	"github.com/DoyleJ11/pixel-board-backend/internal/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	// handler goroutines outlive the test, so no zaptest logger here
	log := zap.NewNop()
	h := hub.NewHub(context.Background(), hub.Config{
		Board: board.Config{Rows: 2, Cols: 2},
		Store: store.NewMemory(),
		Locks: lockauth.NewMemory(time.Minute),
	})
	srv := httptest.NewServer(Handler(h, Options{Logger: log}))
	t.Cleanup(func() {
		srv.Close()
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Done()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return typ, data
}

func readMsg(t *testing.T, conn *websocket.Conn, want string) types.ServerMessage {
	t.Helper()
	typ, data := read(t, conn)
	require.Equal(t, websocket.MessageText, typ)
	var m types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, want, m.Type, "got %s", data)
	return m
}

func send(t *testing.T, conn *websocket.Conn, m types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, payload))
}

func TestHandler_RejectsBadQuery(t *testing.T) {
	srv := newServer(t)
	for _, q := range []string{"", "board=a/b", "board=ok&user=x", "board=ok&user=70000", "board=ok&since=-1"} {
		resp, err := http.Get(srv.URL + "/?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", q)
	}
}

func TestHandler_LockSubmitEcho(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, srv, "board=main&user=4")
	ready := readMsg(t, conn, types.MsgReady)
	assert.Equal(t, 0, ready.Sequence)

	send(t, conn, types.ClientMessage{Type: types.MsgLockTile, ReqID: "r1", Tile: types.TileRef(1)})
	granted := readMsg(t, conn, types.MsgLockGranted)
	assert.Equal(t, "r1", granted.ReqID)
	readMsg(t, conn, types.MsgTileLocked)

	f := &frame.Frame{Tile: frame.CoordFromID(1), Mask: bitmask.FromPositions(0, 1), Colors: []palette.Index{2, 2}}
	data, err := f.Bytes()
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageBinary, data))

	readMsg(t, conn, types.MsgTileReleased)
	typ, echo := read(t, conn)
	require.Equal(t, websocket.MessageBinary, typ)
	got, err := frame.Decode(echo)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), got.Author)
	assert.Equal(t, []int{0, 1}, got.Mask.Slice())

	// a second client replays the history
	late := dial(t, srv, "board=main&user=5&since=0")
	typ, replay := read(t, late)
	require.Equal(t, websocket.MessageBinary, typ)
	assert.Equal(t, echo, replay)
	assert.Equal(t, 1, readMsg(t, late, types.MsgReady).Sequence)
}

func TestHandler_ControlErrors(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, srv, "board=main&user=4")
	readMsg(t, conn, types.MsgReady)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("{")))
	assert.Equal(t, errBadJSON.Error(), readMsg(t, conn, types.MsgError).Error)

	tests := []struct {
		name string
		msg  types.ClientMessage
		want string
	}{
		{"unknown type", types.ClientMessage{Type: "Paint", ReqID: "a"}, `unknown type: "Paint"`},
		{"lock without tile", types.ClientMessage{Type: types.MsgLockTile, ReqID: "b"}, errMissingTile.Error()},
		{"undo out of range", types.ClientMessage{Type: types.MsgUndoFrame, ReqID: "c", Sequence: 70000}, errBadSequence.Error()},
		{"ban without since", types.ClientMessage{Type: types.MsgBanUser, ReqID: "d", UserID: 2}, errMissingBan.Error()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			send(t, conn, tc.msg)
			m := readMsg(t, conn, types.MsgError)
			assert.Equal(t, tc.msg.ReqID, m.ReqID)
			assert.Equal(t, tc.want, m.Error)
		})
	}
}

func TestHandler_AnonymousCannotLock(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, srv, "board=main")
	readMsg(t, conn, types.MsgReady)

	send(t, conn, types.ClientMessage{Type: types.MsgLockTile, ReqID: "r", Tile: types.TileRef(0)})
	m := readMsg(t, conn, types.MsgLockDenied)
	assert.Equal(t, "not authenticated", m.Reason)
}
