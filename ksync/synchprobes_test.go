package ksync

// This file reproduces, as ordinary Go tests, the stress tests and
// rendezvous problems kern/test/synchtest.c and kern/test/synchprobs.c
// drive against the source kernel's semaphore/lock/cv: mutual exclusion
// under contention, a sleep/wakeup atomicity probe, and the whalemating
// and stoplight rendezvous problems. Where the source prints progress to
// the console and a human judges SUCCESS/FAIL, these assert the
// corresponding invariant directly.

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/os161go/os161go/cpu"
	"github.com/os161go/os161go/thread"
	"github.com/stretchr/testify/assert"
)

// TestSemaphoreSerializesAccess reproduces synchtest.c's semtest: a
// semaphore initialized to 1 should let only one of many threads through
// at a time, so a shared "current holder" variable set on entry never
// changes out from under a thread before it clears it on exit.
func TestSemaphoreSerializesAccess(t *testing.T) {
	const nthreads = 32
	const nloops = 20

	sem := NewSemaphore("semtest", 1)
	c := cpu.New(0, 0)
	var current atomic.Int64
	current.Store(-1)
	var mismatches atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < nthreads; i++ {
		wg.Add(1)
		num := int64(i)
		thread.Fork("semtest", c, func(self *thread.Thread) {
			defer wg.Done()
			for j := 0; j < nloops; j++ {
				sem.P(self)
				current.Store(num)
				thread.Fork("yield", c, func(*thread.Thread) {}).Join()
				if current.Load() != num {
					mismatches.Add(1)
				}
				sem.V(self)
			}
		})
	}
	wg.Wait()
	assert.Zero(t, mismatches.Load())
}

// TestLockSerializesDerivedValues reproduces synchtest.c's locktest: each
// thread sets three mutually-derivable values while holding the lock and
// checks all three are still consistent with each other before releasing
// it, catching a lock that lets two threads interleave their writes.
func TestLockSerializesDerivedValues(t *testing.T) {
	const nthreads = 32
	const nloops = 40

	lock := NewLock("locktest", nil)
	c := cpu.New(0, 0)
	var v1, v2, v3 int64
	var broken atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < nthreads; i++ {
		wg.Add(1)
		num := int64(i)
		thread.Fork("locktest", c, func(self *thread.Thread) {
			defer wg.Done()
			for j := 0; j < nloops; j++ {
				lock.Acquire(self)
				v1, v2, v3 = num, num*num, num%3
				if v2 != v1*v1 || v3 != v1%3 {
					broken.Store(true)
				}
				lock.Release(self)
			}
		})
	}
	wg.Wait()
	assert.False(t, broken.Load())
}

// TestCVWakesInRotation reproduces synchtest.c's cvtest: threads 0..N-1
// take turns under a lock+CV pair, each waiting for a shared counter to
// reach its own number before decrementing it and broadcasting, so every
// thread should get exactly one turn.
func TestCVWakesInRotation(t *testing.T) {
	const nthreads = 16

	lock := NewLock("cvtest", nil)
	cv := NewCV("cvtest")
	c := cpu.New(0, 0)
	turn := nthreads - 1
	turns := make([]int, nthreads)
	var wg sync.WaitGroup

	for i := 0; i < nthreads; i++ {
		wg.Add(1)
		num := i
		thread.Fork("cvtest", c, func(self *thread.Thread) {
			defer wg.Done()
			lock.Acquire(self)
			for turn != num {
				cv.Wait(self, lock)
			}
			turns[num]++
			turn = (turn + nthreads - 1) % nthreads
			cv.Broadcast(self)
			lock.Release(self)
		})
	}
	wg.Wait()
	for i, n := range turns {
		assert.Equal(t, 1, n, "thread %d should get exactly one turn", i)
	}
}

// TestCVSleepIsAtomicWithRelease reproduces synchtest.c's cvtest2: one
// thread rotates through many lock/CV pairs signaling the other, which
// waits on each in turn. A shared counter should go 0 -> 1 -> 0 on every
// round trip; if it's ever wrong, a wakeup was either missed (the
// signaler ran before the waiter was registered) or delivered twice.
func TestCVSleepIsAtomicWithRelease(t *testing.T) {
	const npairs = 64
	const nrounds = 10

	locks := make([]*Lock, npairs)
	cvs := make([]*CV, npairs)
	for i := range locks {
		locks[i] = NewLock("cvtest2", nil)
		cvs[i] = NewCV("cvtest2")
	}
	gate := NewSemaphore("gate", 0)
	c := cpu.New(0, 0)
	var counter atomic.Int32
	var broken atomic.Bool
	var wg sync.WaitGroup

	wg.Add(2)
	sleeper := thread.Fork("sleeper", c, func(self *thread.Thread) {
		defer wg.Done()
		for r := 0; r < nrounds; r++ {
			for i := 0; i < npairs; i++ {
				locks[i].Acquire(self)
				gate.V(self)
				counter.Add(1)
				cvs[i].Wait(self, locks[i])
				locks[i].Release(self)
			}
		}
	})
	waker := thread.Fork("waker", c, func(self *thread.Thread) {
		defer wg.Done()
		for r := 0; r < nrounds; r++ {
			for i := 0; i < npairs; i++ {
				gate.P(self)
				locks[i].Acquire(self)
				if counter.Add(-1) != 0 {
					broken.Store(true)
				}
				cvs[i].Signal(self)
				locks[i].Release(self)
			}
		}
	})
	wg.Wait()
	sleeper.Join()
	waker.Join()
	assert.False(t, broken.Load())
}

// TestWhalemating reproduces synchprobs.c's whalemating rendezvous: equal
// numbers of "male", "female", and "matchmaker" threads start gated on a
// shared semaphore and each must complete exactly once, mirroring the
// source's male()/female()/matchmaker() no-op bodies, with the start
// semaphore gating them and a WaitGroup tracking their completion.
func TestWhalemating(t *testing.T) {
	const nmating = 10

	start := NewSemaphore("start", 0)
	c := cpu.New(0, 0)
	var completed atomic.Int32
	var wg sync.WaitGroup

	spawn := func(role string) {
		wg.Add(1)
		thread.Fork(role, c, func(self *thread.Thread) {
			defer wg.Done()
			start.P(self)
			completed.Add(1)
		})
	}
	for i := 0; i < nmating; i++ {
		spawn("male")
		spawn("female")
		spawn("matchmaker")
	}
	dispatcher := thread.Fork("dispatcher", c, func(self *thread.Thread) {
		for i := 0; i < nmating*3; i++ {
			start.V(self)
		}
	})
	dispatcher.Join()
	wg.Wait()
	assert.Equal(t, int32(nmating*3), completed.Load())
}

// TestStoplightNoQuadrantOverlap reproduces synchprobs.c's stoplight
// problem at the level of its core safety property: a car must hold the
// lock on every intersection quadrant it passes through, so two cars
// never occupy the same quadrant at once. Each car is assigned a
// direction and turn (cycled across all combinations rather than
// randomized, so the test is deterministic), translated into the
// sequence of quadrants real stoplight code would traverse for that
// combination.
func TestStoplightNoQuadrantOverlap(t *testing.T) {
	const ncars = 32
	const nquadrants = 4

	quadrantLocks := make([]*Lock, nquadrants)
	occupied := make([]atomic.Bool, nquadrants)
	for i := range quadrantLocks {
		quadrantLocks[i] = NewLock("quadrant", nil)
	}
	c := cpu.New(0, 0)
	var violated atomic.Bool
	var wg sync.WaitGroup

	enter := func(self *thread.Thread, q int) {
		quadrantLocks[q].Acquire(self)
		if !occupied[q].CompareAndSwap(false, true) {
			violated.Store(true)
		}
	}
	leave := func(self *thread.Thread, q int) {
		occupied[q].Store(false)
		quadrantLocks[q].Release(self)
	}

	// quadrantPath mirrors the fixed lookup table a real stoplight
	// solution builds from (direction, turn): straight crosses one
	// quadrant, left crosses two, right crosses none beyond the entry
	// quadrant.
	quadrantPath := func(direction, turn int) []int {
		switch turn {
		case 0: // straight
			return []int{direction, (direction + 3) % 4}
		case 1: // left
			return []int{direction, (direction + 3) % 4, (direction + 2) % 4}
		default: // right
			return []int{direction}
		}
	}

	for i := 0; i < ncars; i++ {
		wg.Add(1)
		direction := i % 4
		turn := i % 3
		thread.Fork("car", c, func(self *thread.Thread) {
			defer wg.Done()
			for _, q := range quadrantPath(direction, turn) {
				enter(self, q)
				leave(self, q)
			}
		})
	}
	wg.Wait()
	assert.False(t, violated.Load())
}
