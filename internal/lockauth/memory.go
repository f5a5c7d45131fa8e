package lockauth

import (
	"context"
	"sync"
	"time"
)

type tileKey struct {
	board string
	tile  uint8
}

type lease struct {
	user    uint16
	expires time.Time
}

// Memory is an in-process Authority.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	tiles map[tileKey]lease
	users map[uint16]tileKey
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		tiles: make(map[tileKey]lease),
		users: make(map[uint16]tileKey),
	}
}

func (m *Memory) Acquire(ctx context.Context, board string, tile uint8, user uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := tileKey{board, tile}

	if l, ok := m.tiles[k]; ok && l.user != user && now.Before(l.expires) {
		return ErrLocked
	}
	// a denied request keeps the previous lock
	if prev, ok := m.users[user]; ok && prev != k {
		if l, ok := m.tiles[prev]; ok && l.user == user {
			delete(m.tiles, prev)
		}
		delete(m.users, user)
	}
	m.tiles[k] = lease{user: user, expires: now.Add(m.ttl)}
	m.users[user] = k
	return nil
}

func (m *Memory) Release(ctx context.Context, board string, tile uint8, user uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tileKey{board, tile}
	l, ok := m.tiles[k]
	switch {
	case !ok:
		return ErrNotLocked
	case !m.now().Before(l.expires):
		delete(m.tiles, k)
		if m.users[l.user] == k {
			delete(m.users, l.user)
		}
		return ErrExpired
	case l.user != user:
		return ErrLockedByOther
	}
	delete(m.tiles, k)
	delete(m.users, user)
	return nil
}

func (m *Memory) Holder(ctx context.Context, board string, tile uint8) (uint16, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.tiles[tileKey{board, tile}]
	if !ok || !m.now().Before(l.expires) {
		return 0, false, nil
	}
	return l.user, true, nil
}

func (m *Memory) Close() error { return nil }
