package types

// Client -> Server
//
// Binary message: one encoded frame. The server ignores the sequence, author
// and time fields and stamps its own; the echoed frame has the same content
// hash.
//
// LockTile:
//   reqId: string
//   tile: number            // row*16 + col
//
// ReleaseTile:
//   reqId: string
//   tile: number
//
// UndoFrame:               // author only
//   reqId: string
//   sequence: number
//
// BanUser:                 // moderators only
//   reqId: string
//   userId: number
//   since: RFC 3339 time
//   until?: RFC 3339 time
//   timeout?: RFC 3339 time  // locks blocked until then; defaults to until,
//                            // and to forever when both are absent

// Server -> Client
//
// Binary message: an accepted frame, or a tombstone (deleted flag set) for a
// frame that was removed.
//
// Ready:                   // after history replay on join
//   sequence: number       // next sequence the board will assign
//
// LockGranted | Released:
//   reqId: string
//   tile: number
//
// LockDenied:
//   reqId: string
//   tile: number
//   reason: "already locked" | "not authenticated" | "banned" | "rate limited"
//
// TileLocked | TileReleased (broadcast):
//   tile: number
//   userId: number
//
// Error:
//   reqId?: string
//   hash?: string          // set when a submitted frame was rejected
//   error: string
