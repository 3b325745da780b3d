// Package kspin implements the kernel's busy-waiting lock, used to protect
// data that is touched from interrupt handlers and therefore cannot be
// guarded by anything that might sleep. A spinlock holder must never block,
// sleep, or call anything that yields the owning CPU for longer than a
// handful of instructions; the one exception is an interrupt, which a
// spinlock holder masks out on its own CPU via the spl package rather than
// relying on the spinlock itself.
package kspin

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/os161go/os161go/klog"
	"github.com/os161go/os161go/spl"
)

const (
	unlocked = 0
	locked   = 1

	maxSpinCount = 8
)

var log = klog.For("kspin")

// Holder identifies the CPU currently holding a spinlock. It is an
// interface rather than a concrete *cpu.CPU so that kspin does not depend
// on the cpu package, and so that callers can pass either a *cpu.CPU or a
// *thread.Thread, which reports its owning CPU's id.
type Holder interface {
	// SoftwareID returns the CPU's small dense id, used for the holder
	// checks in Acquire, Release and DoIHold.
	SoftwareID() uint32
}

// Spinlock is a busy-waiting mutual exclusion lock. The zero value is a
// valid, unlocked Spinlock.
type Spinlock struct {
	_     cpu.CacheLinePad
	state atomic.Uint32
	_     cpu.CacheLinePad
	holder   atomic.Pointer[holderID]
	name     string
	savedSPL atomic.Int32
}

type holderID struct {
	id uint32
}

// splCapable is satisfied by a Holder that also carries per-thread SPL
// bookkeeping and can mask/unmask interrupts on its owning CPU --
// thread.Thread implements both spl.Machine and spl.State, so any real
// caller qualifies. Test doubles that only implement Holder fall through
// Acquire/Release without touching SPL, same as they do today.
type splCapable interface {
	spl.Machine
	spl.State
}

// New creates a named spinlock; the name appears in panic messages.
func New(name string) *Spinlock {
	return &Spinlock{name: name}
}

// Acquire blocks, spinning with exponential back-off, until the lock is
// held by the calling CPU. who identifies the acquiring CPU for the
// same-CPU re-acquisition assertion; callers on a CPU-less goroutine (tests)
// may pass nil, which disables that assertion. Per spec.md's spinlock
// discipline, acquiring raises the calling thread to IPLHigh before
// spinning, the same way spinlock_acquire calls splhigh() first in the
// source kernel; the previous level is saved so Release can restore it.
func (s *Spinlock) Acquire(who Holder) {
	if who != nil && s.DoIHold(who) {
		panic("kspin: " + s.name + ": acquire while already held by this cpu")
	}

	sc, splCap := who.(splCapable)
	var prevSPL int
	if splCap {
		prevSPL = spl.SPLHigh(sc, sc)
	}

	spinCount := 1
	for s.state.Load() == locked || !s.state.CompareAndSwap(unlocked, locked) {
		runtime.Gosched()
		for i := 0; i < spinCount; i++ {
			runtime.Gosched()
		}
		if spinCount < maxSpinCount {
			spinCount <<= 1
		}
	}
	if who != nil {
		s.holder.Store(&holderID{id: who.SoftwareID()})
	}
	if splCap {
		s.savedSPL.Store(int32(prevSPL))
	}
}

// TryAcquire attempts to acquire the lock without spinning, returning false
// immediately if it is already held. It raises SPL the same way Acquire
// does, lowering it again on the failure path since no critical section
// was actually entered.
func (s *Spinlock) TryAcquire(who Holder) bool {
	sc, splCap := who.(splCapable)
	var prevSPL int
	if splCap {
		prevSPL = spl.SPLHigh(sc, sc)
	}

	if s.state.Load() == locked || !s.state.CompareAndSwap(unlocked, locked) {
		if splCap {
			spl.SPLX(sc, sc, prevSPL)
		}
		return false
	}
	if who != nil {
		s.holder.Store(&holderID{id: who.SoftwareID()})
	}
	if splCap {
		s.savedSPL.Store(int32(prevSPL))
	}
	return true
}

// Release releases the lock. It panics if who did not hold it, matching the
// source kernel's fatal assertion on a spinlock release by a non-owner.
// It lowers SPL back to whatever Acquire/TryAcquire found in effect,
// matching spinlock_release's trailing splx(lk_oldspl) call.
func (s *Spinlock) Release(who Holder) {
	if who != nil && !s.DoIHold(who) {
		panic("kspin: " + s.name + ": release by non-holder")
	}
	s.holder.Store(nil)
	s.state.Store(unlocked)
	if sc, ok := who.(splCapable); ok {
		spl.SPLX(sc, sc, int(s.savedSPL.Load()))
	}
}

// DoIHold reports whether who currently holds the lock.
func (s *Spinlock) DoIHold(who Holder) bool {
	if who == nil {
		return false
	}
	h := s.holder.Load()
	return h != nil && h.id == who.SoftwareID()
}

// IsHeld reports whether any CPU currently holds the lock.
func (s *Spinlock) IsHeld() bool {
	return s.state.Load() == locked
}
