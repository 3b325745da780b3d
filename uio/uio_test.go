package uio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoveReadIntoBuffer(t *testing.T) {
	backing := []byte{1, 2, 3, 4, 5}
	u := KInit(backing, 0, Read)

	src := []byte{9, 9, 9}
	err := Move(src, u)
	assert.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 4, 5}, backing)
	assert.Equal(t, int64(3), u.Offset)
	assert.Equal(t, uint64(2), u.Resid)
}

func TestMoveWriteOutOfBuffer(t *testing.T) {
	backing := []byte{1, 2, 3, 4, 5}
	u := KInit(backing, 0, Write)

	dst := make([]byte, 3)
	err := Move(dst, u)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, dst)
	assert.Equal(t, uint64(2), u.Resid)
}

func TestMoveExhaustedReturnsEFAULT(t *testing.T) {
	backing := []byte{1, 2}
	u := KInit(backing, 0, Read)

	err := Move([]byte{0, 0, 0}, u)
	assert.Error(t, err)
}

func TestMoveZerosFillsHole(t *testing.T) {
	backing := []byte{9, 9, 9, 9}
	u := KInit(backing, 0, Write)

	err := MoveZeros(4, u)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, backing)
}
