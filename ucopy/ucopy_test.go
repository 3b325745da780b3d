package ucopy

import (
	"testing"

	"github.com/os161go/os161go/kerrno"
	"github.com/stretchr/testify/assert"
)

// flatSpace is a fixed-size simulated user address space backed by a byte
// slice, for testing only: a real target needs an actual TLB walk.
type flatSpace struct {
	mem []byte
}

func (f *flatSpace) ReadByte(uaddr uintptr) (byte, error) {
	if int(uaddr) >= len(f.mem) {
		return 0, kerrno.EFAULT
	}
	return f.mem[uaddr], nil
}

func (f *flatSpace) WriteByte(uaddr uintptr, b byte) error {
	if int(uaddr) >= len(f.mem) {
		return kerrno.EFAULT
	}
	f.mem[uaddr] = b
	return nil
}

func TestCopyInReadsBytes(t *testing.T) {
	as := &flatSpace{mem: []byte("hello world")}
	dst := make([]byte, 5)
	assert.NoError(t, CopyIn(as, 0, dst))
	assert.Equal(t, "hello", string(dst))
}

func TestCopyInFaultsPastEnd(t *testing.T) {
	as := &flatSpace{mem: []byte("hi")}
	dst := make([]byte, 10)
	err := CopyIn(as, 0, dst)
	assert.ErrorIs(t, err, kerrno.EFAULT)
}

func TestCopyOutWritesBytes(t *testing.T) {
	as := &flatSpace{mem: make([]byte, 5)}
	assert.NoError(t, CopyOut(as, 0, []byte("abc")))
	assert.Equal(t, "abc\x00\x00", string(as.mem))
}

func TestCopyOutFaultsPastEnd(t *testing.T) {
	as := &flatSpace{mem: make([]byte, 2)}
	err := CopyOut(as, 0, []byte("abc"))
	assert.ErrorIs(t, err, kerrno.EFAULT)
}

func TestCopyInStringStopsAtNUL(t *testing.T) {
	as := &flatSpace{mem: append([]byte("path"), 0, 'x')}
	s, err := CopyInString(as, 0, 16)
	assert.NoError(t, err)
	assert.Equal(t, "path", s)
}

func TestCopyInStringTooLong(t *testing.T) {
	as := &flatSpace{mem: []byte("nonullhere")}
	_, err := CopyInString(as, 0, 4)
	assert.ErrorIs(t, err, kerrno.ENAMETOOLONG)
}
