package store

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Memory keeps frames in process. It backs tests and the default dev server.
type Memory struct {
	mu     sync.RWMutex
	boards map[string]map[uint16][]byte
	bans   map[string][]BanRecord
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		boards: make(map[string]map[uint16][]byte),
		bans:   make(map[string][]BanRecord),
	}
}

func (m *Memory) Put(ctx context.Context, board string, seq uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b := m.boards[board]
	if b == nil {
		b = make(map[uint16][]byte)
		m.boards[board] = b
	}
	b[seq] = slices.Clone(data)
	return nil
}

func (m *Memory) Scan(ctx context.Context, board string, fn func(seq uint16, data []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	b := m.boards[board]
	seqs := slices.Sorted(maps.Keys(b))
	frames := make([][]byte, len(seqs))
	for i, s := range seqs {
		frames[i] = b[s]
	}
	m.mu.RUnlock()

	for i, s := range seqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s, slices.Clone(frames[i])); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Boards(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.boards)), nil
}

func (m *Memory) PutBan(ctx context.Context, board string, b BanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.bans[board] = append(m.bans[board], b)
	return nil
}

func (m *Memory) Bans(ctx context.Context, board string) ([]BanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.bans[board]), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
