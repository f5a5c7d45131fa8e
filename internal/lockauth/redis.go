package lockauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript takes the tile unless another user holds it, and only then
// drops the user's previous lock.
// KEYS[1] tile key, KEYS[2] user key; ARGV[1] user, ARGV[2] ttl in ms.
var acquireScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder and holder ~= ARGV[1] then
	return 0
end
local prev = redis.call('GET', KEYS[2])
if prev and prev ~= KEYS[1] then
	if redis.call('GET', prev) == ARGV[1] then
		redis.call('DEL', prev)
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], KEYS[1], 'PX', ARGV[2])
return 1
`)

// releaseScript returns 0 when unlocked, -1 when held by someone else.
var releaseScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if not holder then
	return 0
end
if holder ~= ARGV[1] then
	return -1
end
redis.call('DEL', KEYS[1])
if redis.call('GET', KEYS[2]) == KEYS[1] then
	redis.call('DEL', KEYS[2])
end
return 1
`)

// Redis shares tile locks between server instances. Expiry is left to key
// TTLs, so a release after expiry reports ErrNotLocked.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, prefix: "pixelboard:"}
}

func (r *Redis) tileKey(board string, tile uint8) string {
	return fmt.Sprintf("%slock:%s:%d", r.prefix, board, tile)
}

func (r *Redis) userKey(user uint16) string {
	return fmt.Sprintf("%slockuser:%d", r.prefix, user)
}

func (r *Redis) Acquire(ctx context.Context, board string, tile uint8, user uint16) error {
	keys := []string{r.tileKey(board, tile), r.userKey(user)}
	n, err := acquireScript.Run(ctx, r.rdb, keys, user, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", keys[0], err)
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, board string, tile uint8, user uint16) error {
	keys := []string{r.tileKey(board, tile), r.userKey(user)}
	n, err := releaseScript.Run(ctx, r.rdb, keys, user).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", keys[0], err)
	}
	switch n {
	case 0:
		return ErrNotLocked
	case -1:
		return ErrLockedByOther
	}
	return nil
}

func (r *Redis) Holder(ctx context.Context, board string, tile uint8) (uint16, bool, error) {
	v, err := r.rdb.Get(ctx, r.tileKey(board, tile)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	u, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, false, fmt.Errorf("bad lock holder %q: %w", v, err)
	}
	return uint16(u), true, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
