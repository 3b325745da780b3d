package bitmap

import (
	"testing"

	"github.com/os161go/os161go/kerrno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFillsLowestFirst(t *testing.T) {
	b := New(4)
	for i := uint(0); i < 4; i++ {
		ix, err := b.Alloc()
		require.NoError(t, err)
		assert.Equal(t, i, ix)
	}
	_, err := b.Alloc()
	assert.ErrorIs(t, err, kerrno.ENOSPC)
}

func TestMarkUnmarkRoundTrip(t *testing.T) {
	b := New(16)
	b.Mark(5)
	assert.True(t, b.IsSet(5))
	b.Unmark(5)
	assert.False(t, b.IsSet(5))
}

func TestMarkAlreadyMarkedPanics(t *testing.T) {
	b := New(8)
	b.Mark(0)
	assert.Panics(t, func() { b.Mark(0) })
}

func TestUnmarkAlreadyFreePanics(t *testing.T) {
	b := New(8)
	assert.Panics(t, func() { b.Unmark(0) })
}

func TestNonMultipleOfWordSize(t *testing.T) {
	b := New(3)
	assert.Equal(t, uint(3), b.NumBits())
	for i := 0; i < 3; i++ {
		_, err := b.Alloc()
		require.NoError(t, err)
	}
	_, err := b.Alloc()
	assert.ErrorIs(t, err, kerrno.ENOSPC)
}
