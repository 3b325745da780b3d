// Package wchan implements wait channels: named FIFO queues of sleeping
// threads that the sleep primitives in ksync (semaphores, locks, and
// condition variables) queue onto and wake from. The tricky part a wait
// channel has to get right is the same "sleep atomicity hinge" nsync's
// condition variable builds on — a thread must be enqueued before it is
// possible for anyone else to wake it, so a wakeup racing the sleep can
// never be lost. Here that's guaranteed by the combination of enqueueing
// under the wait channel's own spinlock and Thread.WakeUp delivering to a
// buffered channel: a wakeup sent before the sleeper actually blocks is
// queued rather than dropped.
package wchan

import (
	"github.com/os161go/os161go/kspin"
	"github.com/os161go/os161go/thread"
)

// WaitChannel is a named FIFO sleep queue.
type WaitChannel struct {
	name  string
	spin  *kspin.Spinlock
	queue []*thread.Thread
}

// New creates a named, initially empty wait channel. The name shows up in
// Thread.WaitChannelName() for diagnostics.
func New(name string) *WaitChannel {
	return &WaitChannel{name: name, spin: kspin.New("wchan." + name)}
}

// Name returns the wait channel's name.
func (wc *WaitChannel) Name() string { return wc.name }

// Sleep enqueues self and blocks it until woken by WakeOne or WakeAll.
// Callers must have already released whatever lock they were holding on
// the protected state before calling Sleep, exactly as thread_switch
// requires in the source kernel: the wait channel's own spinlock is the
// only thing protecting the queue itself.
func (wc *WaitChannel) Sleep(self *thread.Thread) {
	wc.SleepReleasing(self, nil)
}

// SleepReleasing enqueues self, then calls unlock (if non-nil) after self
// is safely on the queue but before blocking, and finally blocks until
// woken. This is the hinge a condition variable's Wait needs: the
// caller's lock must stay held until self is guaranteed to receive any
// wakeup that happens concurrently with the release, and must be
// released before self actually blocks so a signaling thread can acquire
// it.
func (wc *WaitChannel) SleepReleasing(self *thread.Thread, unlock func()) {
	wc.spin.Acquire(self)
	wc.queue = append(wc.queue, self)
	wc.spin.Release(self)

	if unlock != nil {
		unlock()
	}

	self.Switch(thread.StateSleeping, wc.name)
}

// WakeOne wakes the longest-waiting thread on the channel, if any. self
// identifies the calling thread to the wait channel's internal spinlock.
func (wc *WaitChannel) WakeOne(self *thread.Thread) {
	wc.spin.Acquire(self)
	var woken *thread.Thread
	if len(wc.queue) > 0 {
		woken = wc.queue[0]
		wc.queue = wc.queue[1:]
	}
	wc.spin.Release(self)

	if woken != nil {
		woken.WakeUp()
	}
}

// WakeAll wakes every thread currently waiting on the channel.
func (wc *WaitChannel) WakeAll(self *thread.Thread) {
	wc.spin.Acquire(self)
	woken := wc.queue
	wc.queue = nil
	wc.spin.Release(self)

	for _, w := range woken {
		w.WakeUp()
	}
}

// IsEmpty reports whether any thread is currently queued. It is racy by
// nature (the answer can change the instant it's returned) and intended
// only for diagnostics and assertions, matching wchan_isempty in the
// source kernel.
func (wc *WaitChannel) IsEmpty(self *thread.Thread) bool {
	wc.spin.Acquire(self)
	defer wc.spin.Release(self)
	return len(wc.queue) == 0
}
