package lockauth

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory(ttl time.Duration) (*Memory, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(ttl)
	m.now = clk.now
	return m, clk
}

// exclusivity is shared by every driver.
func exclusivity(t *testing.T, a Authority) {
	ctx := context.Background()
	const contenders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []uint16
	)
	start := make(chan struct{})
	for u := uint16(1); u <= contenders; u++ {
		wg.Add(1)
		go func(u uint16) {
			defer wg.Done()
			<-start
			if err := a.Acquire(ctx, "b", 42, u); err == nil {
				mu.Lock()
				granted = append(granted, u)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrLocked)
			}
		}(u)
	}
	close(start)
	wg.Wait()
	require.Len(t, granted, 1)

	holder, ok, err := a.Holder(ctx, "b", 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, granted[0], holder)
}

// deniedMoveKeepsLock is shared by every driver.
func deniedMoveKeepsLock(t *testing.T, a Authority) {
	ctx := context.Background()
	require.NoError(t, a.Acquire(ctx, "b", 0, 1))
	require.NoError(t, a.Acquire(ctx, "b", 1, 2))
	assert.ErrorIs(t, a.Acquire(ctx, "b", 1, 1), ErrLocked)

	holder, ok, err := a.Holder(ctx, "b", 0)
	require.NoError(t, err)
	require.True(t, ok, "a refused move must not drop the held tile")
	assert.Equal(t, uint16(1), holder)
	require.NoError(t, a.Release(ctx, "b", 0, 1))
}

func TestMemory_Exclusive(t *testing.T) {
	m, _ := newMemory(DefaultTTL)
	exclusivity(t, m)
}

func TestMemory_ReleaseErrors(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(time.Minute)

	assert.ErrorIs(t, m.Release(ctx, "b", 1, 7), ErrNotLocked)

	require.NoError(t, m.Acquire(ctx, "b", 1, 7))
	require.NoError(t, m.Acquire(ctx, "b", 1, 7), "reacquiring your own tile refreshes it")
	assert.ErrorIs(t, m.Release(ctx, "b", 1, 8), ErrLockedByOther)
	require.NoError(t, m.Release(ctx, "b", 1, 7))

	require.NoError(t, m.Acquire(ctx, "b", 1, 7))
	clk.advance(time.Minute)
	assert.ErrorIs(t, m.Release(ctx, "b", 1, 7), ErrExpired)
	_, ok, _ := m.Holder(ctx, "b", 1)
	assert.False(t, ok)
}

func TestMemory_ExpiredLockCanBeTaken(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(10 * time.Minute)
	require.NoError(t, m.Acquire(ctx, "b", 3, 1))
	assert.ErrorIs(t, m.Acquire(ctx, "b", 3, 2), ErrLocked)

	clk.advance(10*time.Minute + time.Second)
	require.NoError(t, m.Acquire(ctx, "b", 3, 2))
	u, ok, err := m.Holder(ctx, "b", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(2), u)
}

func TestMemory_OneLockPerUser(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(DefaultTTL)
	require.NoError(t, m.Acquire(ctx, "b", 1, 5))
	require.NoError(t, m.Acquire(ctx, "b", 2, 5))

	_, ok, _ := m.Holder(ctx, "b", 1)
	assert.False(t, ok, "moving to a new tile drops the old lock")
	require.NoError(t, m.Acquire(ctx, "b", 1, 6))

	require.NoError(t, m.Acquire(ctx, "other", 1, 5))
	_, ok, _ = m.Holder(ctx, "b", 2)
	assert.False(t, ok)
}

func TestMemory_DeniedMoveKeepsLock(t *testing.T) {
	m, _ := newMemory(DefaultTTL)
	deniedMoveKeepsLock(t, m)
}

func TestLimited(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(DefaultTTL)
	clk := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	l := WithBuckets(m, BucketConfig{Capacity: 2, Refill: time.Minute})
	l.now = clk.now

	require.NoError(t, l.Acquire(ctx, "b", 1, 9))
	require.NoError(t, l.Acquire(ctx, "b", 2, 9))
	assert.ErrorIs(t, l.Acquire(ctx, "b", 3, 9), ErrRateLimited)
	assert.Zero(t, l.Allowance(9))

	l.Refund(9)
	assert.Equal(t, 1, l.Allowance(9))

	// a refused lock costs nothing
	require.NoError(t, m.Acquire(ctx, "b", 7, 1))
	assert.ErrorIs(t, l.Acquire(ctx, "b", 7, 9), ErrLocked)
	assert.Equal(t, 1, l.Allowance(9))

	clk.advance(5 * time.Minute)
	assert.Equal(t, 2, l.Allowance(9))
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	r := NewRedis(rdb, time.Minute)
	r.prefix = "pixelboard-test:" + t.Name() + ":"
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, r.prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		r.Close()
	})

	exclusivity(t, r)
	deniedMoveKeepsLock(t, r)

	require.NoError(t, r.Acquire(ctx, "b", 1, 100))
	assert.ErrorIs(t, r.Release(ctx, "b", 1, 101), ErrLockedByOther)
	require.NoError(t, r.Acquire(ctx, "b", 2, 100))
	_, ok, err := r.Holder(ctx, "b", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Release(ctx, "b", 2, 100))
	assert.ErrorIs(t, r.Release(ctx, "b", 2, 100), ErrNotLocked)
}
