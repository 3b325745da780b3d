// Package cpu models one schedulable processor: its run queue, its zombie
// list, its pending inter-processor interrupts, and its outstanding TLB
// shootdown requests. It deliberately knows nothing about the thread
// package's concrete Thread type — run-queue entries are a narrow Runnable
// interface, the same pattern kspin uses for lock holders, so cpu and
// thread can refer to each other without an import cycle.
package cpu

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Runnable is anything a CPU's run queue can hold.
type Runnable interface {
	Name() string
}

// IPICode identifies the reason a CPU was interrupted by another CPU.
type IPICode int

const (
	// IPIPanic tells every other CPU to halt immediately because one CPU
	// has panicked.
	IPIPanic IPICode = iota
	// IPIOffline asks a CPU to stop scheduling and park.
	IPIOffline
	// IPIUnidle wakes an idle CPU so it picks up newly enqueued work.
	IPIUnidle
	// IPITLBShootdown asks a CPU to invalidate one or more TLB entries.
	IPITLBShootdown
)

// Shootdown describes one TLB entry to invalidate: the address space it
// belongs to and the virtual address within it. AddressSpaceID 0 with
// VAddr 0 is the kernel's own convention for "invalidate everything" as the
// source kernel does when an explicit range isn't known.
type Shootdown struct {
	AddressSpaceID uint64
	VAddr          uintptr
}

const shootdownQueueCapacity = 16

// CPU is one processor in the system. Each of its queues is protected by
// its own mutex rather than one coarse lock, so the run queue can be
// drained while a shootdown is being queued from another CPU without
// contending.
type CPU struct {
	_          cpu.CacheLinePad
	softwareID uint32
	hardwareID uint32

	runQLock sync.Mutex // real Go mutex: run-queue bookkeeping only, never held across a blocking point
	runQueue []Runnable

	zombieLock sync.Mutex
	zombies    []Runnable

	ipiLock    sync.Mutex
	pendingIPI map[IPICode]bool

	shootdownLock  sync.Mutex
	shootdownQueue []Shootdown

	interruptsOff atomic.Bool

	idle bool
	_    cpu.CacheLinePad
}

// New creates a CPU with the given software and hardware ids. The
// software id is the dense, OS-assigned id used for lock-ordering and
// logging; the hardware id is whatever the underlying platform calls this
// execution unit.
func New(softwareID, hardwareID uint32) *CPU {
	return &CPU{
		softwareID: softwareID,
		hardwareID: hardwareID,
		pendingIPI: make(map[IPICode]bool),
		idle:       true,
	}
}

// SoftwareID implements kspin.Holder.
func (c *CPU) SoftwareID() uint32 { return c.softwareID }

// HardwareID returns the platform-assigned processor id.
func (c *CPU) HardwareID() uint32 { return c.hardwareID }

// IRQOff masks interrupts on this CPU. Implements spl.Machine.
func (c *CPU) IRQOff() { c.interruptsOff.Store(true) }

// IRQOn unmasks interrupts on this CPU. Implements spl.Machine.
func (c *CPU) IRQOn() { c.interruptsOff.Store(false) }

// InterruptsOff reports whether this CPU currently has interrupts masked,
// for diagnostics and tests.
func (c *CPU) InterruptsOff() bool { return c.interruptsOff.Load() }

// Enqueue appends a runnable to the back of this CPU's run queue (FIFO).
func (c *CPU) Enqueue(r Runnable) {
	c.runQLock.Lock()
	defer c.runQLock.Unlock()
	c.runQueue = append(c.runQueue, r)
	c.idle = false
}

// Dequeue removes and returns the runnable at the front of the run queue,
// or (nil, false) if it is empty.
func (c *CPU) Dequeue() (Runnable, bool) {
	c.runQLock.Lock()
	defer c.runQLock.Unlock()
	if len(c.runQueue) == 0 {
		return nil, false
	}
	r := c.runQueue[0]
	c.runQueue = c.runQueue[1:]
	return r, true
}

// RunQueueLen reports how many runnables are currently queued.
func (c *CPU) RunQueueLen() int {
	c.runQLock.Lock()
	defer c.runQLock.Unlock()
	return len(c.runQueue)
}

// StealOne removes and returns the runnable at the back of the run queue
// for another CPU to steal, or (nil, false) if there is nothing stealable.
func (c *CPU) StealOne() (Runnable, bool) {
	c.runQLock.Lock()
	defer c.runQLock.Unlock()
	if len(c.runQueue) == 0 {
		return nil, false
	}
	last := len(c.runQueue) - 1
	r := c.runQueue[last]
	c.runQueue = c.runQueue[:last]
	return r, true
}

// Idle reports whether this CPU currently has no runnable work.
func (c *CPU) Idle() bool {
	c.runQLock.Lock()
	defer c.runQLock.Unlock()
	return c.idle && len(c.runQueue) == 0
}

// SetIdle marks whether this CPU currently has nothing runnable.
func (c *CPU) SetIdle(idle bool) {
	c.runQLock.Lock()
	defer c.runQLock.Unlock()
	c.idle = idle
}

// Zombify appends a runnable that has exited to the zombie list for later
// reaping; exited threads aren't reclaimed immediately because the exiting
// goroutine may still be unwinding on the thread's own stack.
func (c *CPU) Zombify(r Runnable) {
	c.zombieLock.Lock()
	defer c.zombieLock.Unlock()
	c.zombies = append(c.zombies, r)
}

// ReapZombies clears and returns the zombie list. Nothing in this module
// calls it: thread.Fork and the thread switch path do not reap, so exited
// threads stay on the list until a caller invokes ReapZombies.
func (c *CPU) ReapZombies() []Runnable {
	c.zombieLock.Lock()
	defer c.zombieLock.Unlock()
	reaped := c.zombies
	c.zombies = nil
	return reaped
}

// SendIPI marks code as pending for this CPU. The actual delivery (waking
// a parked CPU, or having the target check PendingIPI on its next
// interrupt-enabled window) is left to the scheduler driving the CPU; this
// just records the request atomically with respect to other senders.
func (c *CPU) SendIPI(code IPICode) {
	c.ipiLock.Lock()
	defer c.ipiLock.Unlock()
	c.pendingIPI[code] = true
}

// TakeIPIs clears and returns the set of pending IPI codes for this CPU to
// act on.
func (c *CPU) TakeIPIs() []IPICode {
	c.ipiLock.Lock()
	defer c.ipiLock.Unlock()
	codes := make([]IPICode, 0, len(c.pendingIPI))
	for code := range c.pendingIPI {
		codes = append(codes, code)
	}
	c.pendingIPI = make(map[IPICode]bool)
	return codes
}

// QueueShootdown adds a TLB invalidation request to this CPU's bounded
// shootdown queue. If the queue is full, it collapses to a single
// "invalidate everything" entry rather than growing without bound, the
// same trade-off the source kernel's fixed-size shootdown array makes.
func (c *CPU) QueueShootdown(s Shootdown) {
	c.shootdownLock.Lock()
	defer c.shootdownLock.Unlock()
	if len(c.shootdownQueue) == 1 && c.shootdownQueue[0] == (Shootdown{}) {
		// An "invalidate everything" entry is already pending; it covers s.
		return
	}
	if len(c.shootdownQueue) >= shootdownQueueCapacity {
		c.shootdownQueue = []Shootdown{{}}
		return
	}
	c.shootdownQueue = append(c.shootdownQueue, s)
}

// TakeShootdowns clears and returns the pending shootdown requests.
func (c *CPU) TakeShootdowns() []Shootdown {
	c.shootdownLock.Lock()
	defer c.shootdownLock.Unlock()
	pending := c.shootdownQueue
	c.shootdownQueue = nil
	return pending
}
