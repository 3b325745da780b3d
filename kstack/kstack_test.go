package kstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAssignsDistinctAlignedBases(t *testing.T) {
	a := New()
	b := New()

	assert.NotEqual(t, a.Base(), b.Base())
	assert.Equal(t, uint64(0), a.Base()%Size)
	assert.Equal(t, uint64(0), b.Base()%Size)
	assert.Equal(t, a.Base()+Size, a.Top())
}

func TestSameStackMatchesBaseMasking(t *testing.T) {
	a := New()

	assert.True(t, a.Contains(a.Base()))
	assert.True(t, a.Contains(a.Top()-1))
	assert.False(t, a.Contains(a.Top()))

	assert.True(t, a.Owns(a.Base()+17))
	assert.True(t, SameStack(a.Base(), a.Base()+Size-1))
	assert.False(t, SameStack(a.Base(), a.Top()))
}

func TestBaseOfRecoversBaseFromAnyInteriorAddress(t *testing.T) {
	a := New()

	for _, offset := range []uint64{0, 1, Size / 2, Size - 1} {
		assert.Equal(t, a.Base(), BaseOf(a.Base()+offset))
	}
}
