package hangman

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireReleaseNoCycle(t *testing.T) {
	d := New()
	d.Waiting("t1", "lockA")
	d.Acquired("t1", "lockA")
	d.Released("t1", "lockA")
}

func TestSimpleCycleDetected(t *testing.T) {
	d := New()
	// t1 holds lockA, t2 holds lockB.
	d.Waiting("t1", "lockA")
	d.Acquired("t1", "lockA")
	d.Waiting("t2", "lockB")
	d.Acquired("t2", "lockB")

	// t1 now waits for lockB (held by t2) -- no cycle yet.
	d.Waiting("t1", "lockB")

	// t2 waits for lockA (held by t1, who is waiting on t2's lock): cycle.
	assert.Panics(t, func() {
		d.Waiting("t2", "lockA")
	})
}

func TestDoubleWaitPanics(t *testing.T) {
	d := New()
	d.Waiting("t1", "lockA")
	assert.Panics(t, func() {
		d.Waiting("t1", "lockB")
	})
}

func TestAcquireWithoutWaitingPanics(t *testing.T) {
	d := New()
	assert.Panics(t, func() {
		d.Acquired("t1", "lockA")
	})
}

func TestReleaseByNonHolderPanics(t *testing.T) {
	d := New()
	d.Waiting("t1", "lockA")
	d.Acquired("t1", "lockA")
	assert.Panics(t, func() {
		d.Released("t2", "lockA")
	})
}
