package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

var (
	ErrUnknownDriver = errors.New("store: unknown driver")
	ErrClosed        = errors.New("store: closed")
)

// Store persists encoded frames per board, keyed by sequence number. Put
// overwrites, which is how tombstones replace the frames they delete.
type Store interface {
	Put(ctx context.Context, board string, seq uint16, data []byte) error
	// Scan calls fn for every frame of board in increasing sequence order.
	Scan(ctx context.Context, board string, fn func(seq uint16, data []byte) error) error
	Boards(ctx context.Context) ([]string, error)
	// PutBan appends a moderation record; Bans returns a board's records in
	// the order they were put.
	PutBan(ctx context.Context, board string, b BanRecord) error
	Bans(ctx context.Context, board string) ([]BanRecord, error)
	Close() error
}

// BanRecord is a persisted user ban. Since and Until bound the frames that
// were removed; the user may not lock tiles until Expires, or ever when
// Expires is zero.
type BanRecord struct {
	UserID  uint16    `json:"userId"`
	By      uint16    `json:"by"`
	Since   time.Time `json:"since"`
	Until   time.Time `json:"until"`
	Expires time.Time `json:"expires"`
	At      time.Time `json:"at"`
}

// Active reports whether the ban still blocks locks at now.
func (b BanRecord) Active(now time.Time) bool {
	return b.Expires.IsZero() || now.Before(b.Expires)
}

type Config struct {
	Driver      string
	Path        string // bolt file
	DatabaseURL string // postgres dsn
}

func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverBolt:
		return OpenBolt(cfg.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

// BoardHistory is one board's view of a Store.
type BoardHistory struct {
	Store Store
	Board string
}

func (h BoardHistory) Scan(ctx context.Context, fn func(seq uint16, data []byte) error) error {
	return h.Store.Scan(ctx, h.Board, fn)
}

func (h BoardHistory) Put(ctx context.Context, seq uint16, data []byte) error {
	return h.Store.Put(ctx, h.Board, seq, data)
}
