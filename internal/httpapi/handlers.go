package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"image"
	"image/png"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/hub"
	"github.com/DoyleJ11/pixel-board-backend/internal/room"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
)

// MaxScale bounds the snapshot enlargement factor.
const MaxScale = 32

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type api struct {
	hub   *hub.Hub
	store store.Store
	log   *zap.Logger
}

// CreateBoard starts an empty board under a fresh code.
func (a *api) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var code string
	for {
		c, err := GenerateCode()
		if err != nil {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}
		exists, err := a.exists(r, c)
		if err != nil {
			a.log.Error("list boards", zap.Error(err))
			http.Error(w, "failed to create board", http.StatusInternalServerError)
			return
		}
		if !exists {
			code = c
			break
		}
		a.log.Debug("collision on code, regenerating", zap.String("code", c))
	}

	if a.ensure(code) == nil {
		http.Error(w, "failed to create board", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{ID: code})
}

// exists reports whether c names a running or persisted board.
func (a *api) exists(r *http.Request, c string) (bool, error) {
	reply := make(chan *room.Room, 1)
	a.hub.Inbox() <- hub.GetRoom{ID: c, Reply: reply}
	if <-reply != nil {
		return true, nil
	}
	ids, err := a.store.Boards(r.Context())
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == c {
			return true, nil
		}
	}
	return false, nil
}

func (a *api) ensure(id string) *room.Room {
	reply := make(chan *room.Room, 1)
	a.hub.Inbox() <- hub.EnsureRoom{ID: id, Reply: reply}
	return <-reply
}

// ListBoards returns every board with persisted frames.
func (a *api) ListBoards(w http.ResponseWriter, r *http.Request) {
	ids, err := a.store.Boards(r.Context())
	if err != nil {
		a.log.Error("list boards", zap.Error(err))
		http.Error(w, "failed to list boards", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

type frameRecord struct {
	Sequence uint16 `json:"sequence"`
	Data     []byte `json:"data"` // base64 in JSON
}

// Frames dumps the persisted log of one board, tombstones included.
func (a *api) Frames(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !hub.ValidID(id) {
		http.Error(w, "invalid board", http.StatusBadRequest)
		return
	}
	out := []frameRecord{}
	err := a.store.Scan(r.Context(), id, func(seq uint16, data []byte) error {
		out = append(out, frameRecord{Sequence: seq, Data: data})
		return nil
	})
	if err != nil {
		a.log.Error("scan frames", zap.String("board", id), zap.Error(err))
		http.Error(w, "failed to read frames", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Snapshot renders the board's resolved canvas as PNG, optionally enlarged
// with ?scale=.
func (a *api) Snapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !hub.ValidID(id) {
		http.Error(w, "invalid board", http.StatusBadRequest)
		return
	}
	scale := 1
	if s := r.URL.Query().Get("scale"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > MaxScale {
			http.Error(w, "invalid scale", http.StatusBadRequest)
			return
		}
		scale = v
	}

	rm := a.ensure(id)
	if rm == nil {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}
	reply := make(chan *image.Paletted, 1)
	select {
	case rm.Inbox() <- room.Snapshot{Reply: reply}:
	case <-rm.Done():
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	var img image.Image
	select {
	case p := <-reply:
		img = board.Scale(p, scale)
	case <-r.Context().Done():
		return
	case <-time.After(5 * time.Second):
		http.Error(w, "snapshot timed out", http.StatusGatewayTimeout)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		a.log.Warn("encode snapshot", zap.String("board", id), zap.Error(err))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
