package lockauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an unreleased tile lock lasts.
const DefaultTTL = 10 * time.Minute

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

var (
	ErrLocked        = errors.New("tile locked")
	ErrNotLocked     = errors.New("tile not locked")
	ErrLockedByOther = errors.New("tile locked by another user")
	ErrExpired       = errors.New("tile lock expired")
	ErrRateLimited   = errors.New("edit allowance used up")
	ErrUnknownDriver = errors.New("lockauth: unknown driver")
)

// Authority grants tile locks. A user holds at most one lock at a time:
// acquiring a tile drops whatever that user held before.
type Authority interface {
	Acquire(ctx context.Context, board string, tile uint8, user uint16) error
	Release(ctx context.Context, board string, tile uint8, user uint16) error
	// Holder reports the user holding an unexpired lock on the tile.
	Holder(ctx context.Context, board string, tile uint8) (user uint16, ok bool, err error)
	Close() error
}

type Config struct {
	Driver    string
	RedisAddr string
	TTL       time.Duration
}

func Open(ctx context.Context, cfg Config) (Authority, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(ttl), nil
	case DriverRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(rdb, ttl), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
