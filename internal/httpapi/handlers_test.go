package httpapi

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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
	"github.com/DoyleJ11/pixel-board-backend/internal/ws"
)

func newAPI(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	h := hub.NewHub(context.Background(), hub.Config{
		Board: board.Config{Rows: 2, Cols: 2},
		Store: st,
		Locks: lockauth.NewMemory(time.Minute),
	})
	srv := httptest.NewServer(SetupRoutes(h, st, ws.Options{Logger: zap.NewNop()}))
	t.Cleanup(func() {
		srv.Close()
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Done()
	})
	return srv, st
}

// seed persists one accepted pixel on board id.
func seed(t *testing.T, st store.Store, id string, seq uint16, tile uint8, pos int, c palette.Index) []byte {
	t.Helper()
	var clock frame.TimeCheck
	ts, base := clock.Stamp(time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))
	f := (&frame.Frame{
		Tile:   frame.CoordFromID(tile),
		Mask:   bitmask.FromPositions(pos),
		Colors: []palette.Index{c},
	}).Stamp(1, seq, ts, base)
	data, err := f.Bytes()
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), id, seq, data))
	return data
}

func TestHealthz(t *testing.T) {
	srv, _ := newAPI(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, hub.ValidID(code))
}

func TestCreateBoard(t *testing.T) {
	srv, _ := newAPI(t)
	resp, err := http.Post(srv.URL+"/boards", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.ID, 6)
}

func TestListBoardsAndFrames(t *testing.T) {
	srv, st := newAPI(t)

	resp, err := http.Get(srv.URL + "/boards")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	resp.Body.Close()
	assert.Empty(t, ids)
	assert.NotNil(t, ids)

	d0 := seed(t, st, "art", 0, 0, 0, 3)
	d1 := seed(t, st, "art", 1, 1, 7, 9)
	seed(t, st, "other", 0, 0, 0, 1)

	resp, err = http.Get(srv.URL + "/boards")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	resp.Body.Close()
	assert.Equal(t, []string{"art", "other"}, ids)

	resp, err = http.Get(srv.URL + "/boards/art/frames")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []frameRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Equal(t, []frameRecord{{Sequence: 0, Data: d0}, {Sequence: 1, Data: d1}}, records)
}

func TestSnapshot(t *testing.T) {
	srv, st := newAPI(t)
	seed(t, st, "art", 0, 1, 2, 8) // tile (0,1), pixel (0,2)

	resp, err := http.Get(srv.URL + "/boards/art/snapshot.png?scale=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())

	want := palette.Default().Color(8)
	r, g, b, _ := img.At((16+2)*2+1, 1).RGBA()
	assert.Equal(t, [3]uint32{uint32(want.R) * 0x101, uint32(want.G) * 0x101, uint32(want.B) * 0x101}, [3]uint32{r, g, b})
}

func TestSnapshot_BadRequests(t *testing.T) {
	srv, _ := newAPI(t)
	for _, path := range []string{
		"/boards/art/snapshot.png?scale=0",
		"/boards/art/snapshot.png?scale=x",
		"/boards/a.b/snapshot.png",
		"/boards/a.b/frames",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}
