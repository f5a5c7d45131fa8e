package bitmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask_SetGetCount(t *testing.T) {
	var m Mask
	require.True(t, m.IsZero())

	m.Set(0)
	m.Set(63)
	m.Set(64)
	m.Set(255)
	m.Set(256) // out of range, ignored
	m.Set(-1)

	assert.Equal(t, 4, m.Count())
	assert.True(t, m.Get(0))
	assert.True(t, m.Get(63))
	assert.True(t, m.Get(64))
	assert.True(t, m.Get(255))
	assert.False(t, m.Get(1))
	assert.False(t, m.Get(256))

	m.Clear(63)
	assert.False(t, m.Get(63))
	assert.Equal(t, 3, m.Count())
}

func TestMask_PositionsAscending(t *testing.T) {
	m := FromPositions(200, 3, 129, 64, 0)
	assert.Equal(t, []int{0, 3, 64, 129, 200}, m.Slice())

	var first []int
	for p := range m.Positions() {
		first = append(first, p)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []int{0, 3}, first)
}

func TestMask_Rows(t *testing.T) {
	var m Mask
	m.SetRow(0, 0x8001)
	assert.True(t, m.Get(0))
	assert.True(t, m.Get(15))
	assert.False(t, m.Get(1))
	assert.Equal(t, uint16(0x8001), m.Row(0))

	m.SetRow(15, 0xFFFF)
	assert.Equal(t, 18, m.Count())
	assert.Equal(t, uint16(0xFFFF), m.Row(15))

	m.SetRow(15, 0)
	assert.Equal(t, uint16(0), m.Row(15))
	assert.Equal(t, 2, m.Count())
}

func TestMask_TrimKeepsMembership(t *testing.T) {
	m := FromPositions(1, 100, 255)
	assert.Equal(t, m, m.Trim(Size))
	assert.Equal(t, FromPositions(1, 100), m.Trim(255))
	assert.True(t, m.Trim(0).IsZero())
}
