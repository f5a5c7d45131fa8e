package types

import "time"

// Control message types. Frames travel as binary websocket messages and have
// no envelope.
const (
	MsgLockTile    = "LockTile"
	MsgReleaseTile = "ReleaseTile"
	MsgUndoFrame   = "UndoFrame"
	MsgBanUser     = "BanUser"

	MsgReady        = "Ready"
	MsgLockGranted  = "LockGranted"
	MsgLockDenied   = "LockDenied"
	MsgReleased     = "Released"
	MsgTileLocked   = "TileLocked"
	MsgTileReleased = "TileReleased"
	MsgError        = "Error"
)

type ClientMessage struct {
	Type     string     `json:"type"`
	ReqID    string     `json:"reqId,omitempty"`
	Tile     *uint8     `json:"tile,omitempty"`
	Sequence int        `json:"sequence,omitempty"`
	UserID   uint16     `json:"userId,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Timeout  *time.Time `json:"timeout,omitempty"`
}

type ServerMessage struct {
	Type     string `json:"type"`
	ReqID    string `json:"reqId,omitempty"`
	Tile     *uint8 `json:"tile,omitempty"`
	UserID   uint16 `json:"userId,omitempty"`
	Sequence int    `json:"sequence,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Hash     string `json:"hash,omitempty"` // content hash of a rejected frame
	Error    string `json:"error,omitempty"`
}

func TileRef(id uint8) *uint8 { return &id }
