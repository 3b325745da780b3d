// Package uio implements the kernel's generic data-movement abstraction:
// a cursor over one or more buffers, used to shuttle bytes between the
// kernel and the vnode layer without either side knowing whether the
// other end is a kernel buffer, a user address space, or (in this port)
// simply another in-process []byte.
package uio

import (
	"io"

	"github.com/os161go/os161go/kerrno"
)

// Direction of transfer relative to the kernel.
type Direction int

const (
	// Read moves data from the vnode/device into the buffer.
	Read Direction = iota
	// Write moves data from the buffer to the vnode/device.
	Write
)

// Segment identifies what kind of memory Iov.Base refers to. This port
// has no separate user address space, so UserSpace/UserISpace exist only
// to preserve the three-way distinction the source kernel makes; all
// three behave identically here.
type Segment int

const (
	UserISpace Segment = iota
	UserSpace
	SysSpace
)

// Iovec describes one contiguous buffer participating in a transfer.
type Iovec struct {
	Base []byte
}

// Uio is a cursor over a sequence of Iovecs: Move() consumes bytes from
// (or deposits bytes into) the iovecs in order, advancing Offset and
// decrementing Resid as it goes. Callers set up Iov/Resid/Offset/Seg/Rw
// before the first Move and should treat Iov's contents as unspecified
// afterward - only Offset and Resid are meaningful to the caller.
type Uio struct {
	Iov    []Iovec
	Offset int64
	Resid  uint64
	Seg    Segment
	Rw     Direction
}

// KInit builds a Uio for a single-buffer in-kernel transfer, the
// everyday case of "read/write this []byte at this offset".
func KInit(buf []byte, pos int64, rw Direction) *Uio {
	return &Uio{
		Iov:    []Iovec{{Base: buf}},
		Offset: pos,
		Resid:  uint64(len(buf)),
		Seg:    SysSpace,
		Rw:     rw,
	}
}

// Move copies up to len(kbuffer) bytes between kbuffer and the uio's
// iovecs, whichever direction Rw specifies, advancing Offset and
// decrementing Resid by the amount actually transferred. It returns
// kerrno.EFAULT if the uio is exhausted before kbuffer is consumed -
// that never happens for a correctly set up Resid, but guards against a
// caller racing uio_resid against a shorter iovec list.
func Move(kbuffer []byte, u *Uio) error {
	remaining := kbuffer
	for len(remaining) > 0 {
		if u.Resid == 0 || len(u.Iov) == 0 {
			return kerrno.EFAULT
		}
		iov := &u.Iov[0]
		n := len(remaining)
		if n > len(iov.Base) {
			n = len(iov.Base)
		}
		if uint64(n) > u.Resid {
			n = int(u.Resid)
		}
		if n == 0 {
			// This iovec is exhausted; drop it and retry.
			u.Iov = u.Iov[1:]
			continue
		}

		switch u.Rw {
		case Read:
			copy(iov.Base[:n], remaining[:n])
		case Write:
			copy(remaining[:n], iov.Base[:n])
		}

		iov.Base = iov.Base[n:]
		remaining = remaining[n:]
		u.Offset += int64(n)
		u.Resid -= uint64(n)
	}
	return nil
}

// MoveZeros is like Move but always writes zeros into the uio,
// regardless of Rw - used to zero-fill a hole in a sparse file.
func MoveZeros(n int, u *Uio) error {
	zeros := make([]byte, n)
	saved := u.Rw
	u.Rw = Read
	err := Move(zeros, u)
	u.Rw = saved
	return err
}

// Reader adapts a Uio whose Rw is Write (one whose buffer holds data to be
// consumed) into an io.Reader, for callers that want to hand it to stdlib
// I/O helpers: each Read copies from the uio's buffer into p.
type Reader struct{ U *Uio }

func (r Reader) Read(p []byte) (int, error) {
	if r.U.Resid == 0 {
		return 0, io.EOF
	}
	n := len(p)
	if uint64(n) > r.U.Resid {
		n = int(r.U.Resid)
	}
	if err := Move(p[:n], r.U); err != nil {
		return 0, err
	}
	return n, nil
}
