package ksync

import (
	"github.com/os161go/os161go/thread"
	"github.com/os161go/os161go/wchan"
)

// CV is a Mesa-style condition variable, generalized from Go's
// sync.Cond the same way nsync's CV generalizes sync.Cond: the lock to
// release across the wait is an explicit argument of Wait rather than a
// field baked into the CV at construction, because this kernel's locks
// are *ksync.Lock values owned by callers, not anything a zero-value CV
// could point at ahead of time. As with all Mesa-style condition
// variables, Wait must be called in a loop that re-checks the predicate:
// Signal/Broadcast only promise a wakeup, not that the predicate still
// holds by the time the waiter gets the lock back.
type CV struct {
	name string
	wc   *wchan.WaitChannel
}

// NewCV creates a named, initially empty condition variable.
func NewCV(name string) *CV {
	return &CV{name: name, wc: wchan.New("cv." + name)}
}

// Wait atomically releases lock and blocks self on the condition
// variable, then reacquires lock before returning. "Atomically" here
// means with respect to lock: self is registered on the wait channel's
// queue before lock is released, so a Signal/Broadcast racing the release
// can never be missed (see the wchan package doc comment for how the
// queue+buffered-wakeup combination rules that out).
func (cv *CV) Wait(self *thread.Thread, lock *Lock) {
	cv.wc.SleepReleasing(self, func() { lock.Release(self) })
	lock.Acquire(self)
}

// Signal wakes at most one thread blocked in Wait.
func (cv *CV) Signal(self *thread.Thread) {
	cv.wc.WakeOne(self)
}

// Broadcast wakes every thread blocked in Wait.
func (cv *CV) Broadcast(self *thread.Thread) {
	cv.wc.WakeAll(self)
}
