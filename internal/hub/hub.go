package hub

import (
	"context"
	"regexp"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/lockauth"
	"github.com/DoyleJ11/pixel-board-backend/internal/room"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
)

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

// EnsureRoom returns the running room for ID, loading it from the store if
// needed. The reply is nil when the id is invalid or loading failed.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

type RemoveRoom struct {
	ID string
}

type ListRooms struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Config is shared by every room the hub starts. Board is a template; its
// ID is replaced per room.
type Config struct {
	Board      board.Config
	Store      store.Store
	Locks      lockauth.Authority
	Logger     *zap.Logger
	Moderators []uint16
	Now        func() time.Time
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can name a board.
func ValidID(id string) bool { return idPattern.MatchString(id) }

type Hub struct {
	cfg    Config
	log    *zap.Logger
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		log:    log,
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- h.live(msg.ID) // May be nil

			case EnsureRoom:
				if rm := h.live(msg.ID); rm != nil {
					msg.Reply <- rm
					break
				}
				msg.Reply <- h.start(msg.ID)

			case RemoveRoom:
				if rm := h.rooms[msg.ID]; rm != nil {
					rm.Inbox() <- room.Shutdown{}
					delete(h.rooms, msg.ID)
				}

			case ListRooms:
				ids := make([]string, 0, len(h.rooms))
				for id := range h.rooms {
					ids = append(ids, id)
				}
				slices.Sort(ids)
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the room for id unless it has shut down.
func (h *Hub) live(id string) *room.Room {
	rm := h.rooms[id]
	if rm == nil {
		return nil
	}
	select {
	case <-rm.Done():
		delete(h.rooms, id)
		return nil
	default:
		return rm
	}
}

func (h *Hub) start(id string) *room.Room {
	if !ValidID(id) {
		return nil
	}
	bc := h.cfg.Board
	bc.ID = id
	rm, err := room.New(h.ctx, room.Config{
		Board:      bc,
		Store:      h.cfg.Store,
		Locks:      h.cfg.Locks,
		Logger:     h.log,
		Moderators: h.cfg.Moderators,
		Now:        h.cfg.Now,
	})
	if err != nil {
		h.log.Error("start room", zap.String("board", id), zap.Error(err))
		return nil
	}
	h.rooms[id] = rm
	h.log.Info("room started", zap.String("board", id))
	return rm
}

func (h *Hub) shutdown() {
	for _, rm := range h.rooms {
		select {
		case rm.Inbox() <- room.Shutdown{}:
		case <-rm.Done():
		}
	}
	clear(h.rooms)
	h.cancel()
}
