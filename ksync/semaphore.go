// Package ksync implements the kernel's three higher-level sleep
// primitives — semaphores, ownership locks, and Mesa-style condition
// variables — all layered on a wchan.WaitChannel for queuing and a
// kspin.Spinlock for protecting their own small bit of state.
package ksync

import (
	"github.com/os161go/os161go/hangman"
	"github.com/os161go/os161go/kspin"
	"github.com/os161go/os161go/thread"
	"github.com/os161go/os161go/wchan"
)

// Semaphore is a classic counting semaphore: P decrements the count,
// blocking while it is zero; V increments it and wakes one waiter.
type Semaphore struct {
	name  string
	spin  *kspin.Spinlock
	wc    *wchan.WaitChannel
	count uint
}

// NewSemaphore creates a named semaphore with the given initial count.
func NewSemaphore(name string, initial uint) *Semaphore {
	return &Semaphore{
		name:  name,
		spin:  kspin.New("sem." + name),
		wc:    wchan.New("sem." + name),
		count: initial,
	}
}

// P (from the Dutch "proberen", to test) decrements the semaphore's count,
// blocking self while it is zero.
func (s *Semaphore) P(self *thread.Thread) {
	s.spin.Acquire(self)
	for s.count == 0 {
		s.wc.SleepReleasing(self, func() { s.spin.Release(self) })
		s.spin.Acquire(self)
	}
	s.count--
	s.spin.Release(self)
}

// V (from the Dutch "verhogen", to increment) increments the semaphore's
// count and wakes one waiter if any are blocked.
func (s *Semaphore) V(self *thread.Thread) {
	s.spin.Acquire(self)
	s.count++
	s.spin.Release(self)
	s.wc.WakeOne(self)
}

// Count returns the semaphore's current count, for diagnostics.
func (s *Semaphore) Count(self *thread.Thread) uint {
	s.spin.Acquire(self)
	defer s.spin.Release(self)
	return s.count
}

// Lock is an ownership lock: at most one thread may hold it, and only the
// holder may release it. It registers its waits with the hangman deadlock
// detector so a cycle of threads blocked on each other's locks is caught
// rather than silently hanging.
type Lock struct {
	name    string
	spin    *kspin.Spinlock
	wc      *wchan.WaitChannel
	held    bool
	holder  *thread.Thread
	detect  *hangman.Detector
}

// NewLock creates a named, initially unheld lock. detect may be nil to
// opt a given lock out of deadlock detection (used for locks taken and
// released strictly within a single call with no chance of forming a
// cycle, where the bookkeeping would just be overhead).
func NewLock(name string, detect *hangman.Detector) *Lock {
	return &Lock{
		name:   name,
		spin:   kspin.New("lock." + name),
		wc:     wchan.New("lock." + name),
		detect: detect,
	}
}

// Acquire blocks self until the lock is free, then takes it.
func (l *Lock) Acquire(self *thread.Thread) {
	if l.detect != nil {
		l.detect.Waiting(self.Name(), l.name)
	}
	l.spin.Acquire(self)
	for l.held {
		l.wc.SleepReleasing(self, func() { l.spin.Release(self) })
		l.spin.Acquire(self)
	}
	l.held = true
	l.holder = self
	l.spin.Release(self)
	if l.detect != nil {
		l.detect.Acquired(self.Name(), l.name)
	}
}

// Release releases the lock. It panics if self does not hold it.
func (l *Lock) Release(self *thread.Thread) {
	l.spin.Acquire(self)
	if !l.held || l.holder != self {
		l.spin.Release(self)
		panic("ksync: lock " + l.name + " released by non-holder")
	}
	l.held = false
	l.holder = nil
	l.spin.Release(self)
	l.wc.WakeOne(self)
	if l.detect != nil {
		l.detect.Released(self.Name(), l.name)
	}
}

// DoIHold reports whether self currently holds the lock.
func (l *Lock) DoIHold(self *thread.Thread) bool {
	l.spin.Acquire(self)
	defer l.spin.Release(self)
	return l.held && l.holder == self
}
