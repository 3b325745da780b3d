// Package thread implements the kernel's schedulable unit of execution. A
// Thread wraps one goroutine: Fork starts that goroutine, Switch parks or
// resumes it by blocking on a channel, and Exit tears it down. Unlike a
// real preemptive kernel, actual CPU multiplexing is left to the Go
// runtime; this package's job is the OS/161-visible bookkeeping around
// that — state, owning CPU, wait-channel name, interrupt nesting, and
// migration between CPUs' run queues.
package thread

import (
	"fmt"
	"sync"

	"github.com/os161go/os161go/cpu"
	"github.com/os161go/os161go/klog"
	"github.com/os161go/os161go/kstack"
)

var log = klog.For("thread")

// State is a thread's scheduling state.
type State int

const (
	StateRunning State = iota
	StateReady
	StateSleeping
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateSleeping:
		return "sleeping"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Thread is one schedulable unit of execution, analogous to struct thread
// in the source kernel.
type Thread struct {
	mu sync.Mutex

	name       string
	state      State
	owningCPU  *cpu.CPU
	wchanName  string
	owner      any // opaque owning process/address-space, not modeled further
	stack      *kstack.Stack

	curSPL       int
	iplHighCount int

	inInterrupt  bool
	badFaultFunc func()

	resume chan struct{} // closed/sent-to by whoever wakes this thread
	done   chan struct{} // closed when the thread's goroutine returns
	migrationCount int
}

// Name implements cpu.Runnable.
func (t *Thread) Name() string { return t.name }

// State returns the thread's current scheduling state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// CPU returns the CPU this thread is currently assigned to.
func (t *Thread) CPU() *cpu.CPU {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owningCPU
}

// Stack returns the thread's kernel stack, exclusively owned for the
// thread's lifetime: nothing else ever holds a reference to it.
func (t *Thread) Stack() *kstack.Stack { return t.stack }

// SoftwareID implements kspin.Holder by delegating to the owning CPU, so a
// thread can be passed anywhere a spinlock holder identity is needed.
func (t *Thread) SoftwareID() uint32 {
	c := t.CPU()
	if c == nil {
		return 0
	}
	return c.SoftwareID()
}

// WaitChannelName returns the name of the wait channel this thread is
// blocked on, or "" if it isn't sleeping. Used for diagnostics.
func (t *Thread) WaitChannelName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wchanName
}

func (t *Thread) setWaitChannelName(name string) {
	t.mu.Lock()
	t.wchanName = name
	t.mu.Unlock()
}

// CurSPL implements spl.State.
func (t *Thread) CurSPL() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curSPL
}

// SetCurSPL implements spl.State.
func (t *Thread) SetCurSPL(v int) {
	t.mu.Lock()
	t.curSPL = v
	t.mu.Unlock()
}

// IPLHighCount implements spl.State.
func (t *Thread) IPLHighCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iplHighCount
}

// SetIPLHighCount implements spl.State.
func (t *Thread) SetIPLHighCount(v int) {
	t.mu.Lock()
	t.iplHighCount = v
	t.mu.Unlock()
}

// IRQOff implements spl.Machine by masking interrupts on this thread's
// owning CPU, matching the source kernel's cpu_irqoff acting on whichever
// processor is currently executing.
func (t *Thread) IRQOff() {
	if c := t.CPU(); c != nil {
		c.IRQOff()
	}
}

// IRQOn implements spl.Machine by unmasking interrupts on this thread's
// owning CPU.
func (t *Thread) IRQOn() {
	if c := t.CPU(); c != nil {
		c.IRQOn()
	}
}

// InInterrupt reports whether this thread is currently running interrupt
// handler code, set around trap.Dispatch's interrupt branch so nested
// trap handling can tell an interrupt-within-an-interrupt apart from a
// thread's normal execution.
func (t *Thread) InInterrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inInterrupt
}

// SetInInterrupt is used by trap.Dispatch to bracket interrupt handling.
func (t *Thread) SetInInterrupt(v bool) {
	t.mu.Lock()
	t.inInterrupt = v
	t.mu.Unlock()
}

// BadFaultFunc returns the function trap.Dispatch should invoke in place
// of panicking when a kernel-mode fault happens while this thread is
// inside a copyin/copyout-style access of caller-supplied memory, or nil
// if no such access is in progress.
func (t *Thread) BadFaultFunc() func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.badFaultFunc
}

// SetBadFaultFunc installs or clears the bad-fault redirect, for the
// duration of a single copy operation. The ucopy package does not install
// one.
func (t *Thread) SetBadFaultFunc(fn func()) {
	t.mu.Lock()
	t.badFaultFunc = fn
	t.mu.Unlock()
}

// Fork creates a new thread running fn on the given CPU and enqueues it as
// ready to run. The returned Thread's goroutine starts immediately; fn
// sees itself as "running" the moment it's scheduled by the Go runtime,
// which for bookkeeping purposes happens right away since real CPU
// multiplexing is the Go scheduler's job, not this package's.
func Fork(name string, c *cpu.CPU, fn func(self *Thread)) *Thread {
	t := &Thread{
		name:      name,
		state:     StateReady,
		owningCPU: c,
		stack:     kstack.New(),
		resume:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.Enqueue(t)
	log.Debug().Str("thread", name).Uint32("cpu", c.SoftwareID()).Msg("fork")

	go func() {
		t.setState(StateRunning)
		fn(t)
		t.Exit()
	}()

	return t
}

// Exit marks the thread a zombie, hands it to its owning CPU's zombie
// list, and unblocks anyone waiting on its completion via Join.
func (t *Thread) Exit() {
	t.setState(StateZombie)
	if c := t.CPU(); c != nil {
		c.Zombify(t)
	}
	close(t.done)
	log.Debug().Str("thread", t.name).Msg("exit")
}

// Join blocks until the thread has exited.
func (t *Thread) Join() {
	<-t.done
}

// Yield voluntarily gives up the CPU: it marks the thread ready, appends
// it to its CPU's run queue and blocks until WakeUp is called for it (a
// WakeUp already pending makes it return at once). It corresponds to
// thread_yield in the source kernel. Nothing in this package dequeues the
// thread or wakes it, and the run-queue entry stays in place after Yield
// returns.
func (t *Thread) Yield() {
	t.setState(StateReady)
	if c := t.CPU(); c != nil {
		c.Enqueue(t)
	}
	t.block()
	t.setState(StateRunning)
}

// Switch transitions the thread to newState and blocks the calling
// goroutine until something wakes it (via wakeUp), mirroring
// thread_switch's role of doing the actual context change once a sleep
// primitive has decided this thread must stop running. wchanName records
// which wait channel the thread is sleeping on; it is cleared automatically
// once the thread resumes.
func (t *Thread) Switch(newState State, wchanName string) {
	t.setState(newState)
	t.setWaitChannelName(wchanName)
	t.block()
	t.setWaitChannelName("")
	t.setState(StateRunning)
}

// block waits for wakeUp. resume is buffered with room for one signal, so
// a wakeUp sent before this call is not lost: block then returns at once.
func (t *Thread) block() {
	<-t.resume
}

// wakeUp resumes a parked thread. It is unexported: only wait primitives in
// the wchan/ksync packages, which own the decision of who to wake, may call
// it (via WakeUp, the one exported hook).
func (t *Thread) wakeUp() {
	select {
	case t.resume <- struct{}{}:
	default:
		// Already has a pending resume signal queued; coalesce.
	}
}

// WakeUp is the single exported entry point wait-channel implementations
// use to resume a thread that called Switch; wchan.WaitChannel keeps its
// waiting *Thread values and calls it on the one it wakes.
func (t *Thread) WakeUp() { t.wakeUp() }

// ConsiderMigration asks whether this thread should move to a different,
// less loaded CPU, and performs the move if so. The source and
// destination run queues are each locked on their own by Dequeue and
// Enqueue, never both at once; the id ordering from cpu.MigrationPair is
// computed but takes no part in the locking.
func (t *Thread) ConsiderMigration(reg *cpu.Registry, threshold int) bool {
	src := t.CPU()
	if src == nil {
		return false
	}
	if src.RunQueueLen() < threshold {
		return false
	}
	dst := reg.LeastLoaded(src)
	if dst == nil || dst.RunQueueLen() >= src.RunQueueLen() {
		return false
	}

	first, second := cpu.MigrationPair(src, dst)
	_ = first
	_ = second

	if _, ok := src.Dequeue(); !ok {
		return false
	}
	t.mu.Lock()
	t.owningCPU = dst
	t.migrationCount++
	t.mu.Unlock()
	dst.Enqueue(t)
	log.Debug().Str("thread", t.name).Uint32("from", src.SoftwareID()).Uint32("to", dst.SoftwareID()).Msg("migrated")
	return true
}

// MigrationCount reports how many times this thread has moved CPUs, for
// tests and diagnostics.
func (t *Thread) MigrationCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.migrationCount
}

// Validate panics with a descriptive message if invariants that must
// always hold for a runnable thread are violated, the counterpart of the
// source kernel's thread_checkstack assertions. Fork, Switch, Yield and
// Exit do not call it; a caller invokes it explicitly.
func (t *Thread) Validate() {
	if t.name == "" {
		panic("thread: unnamed thread")
	}
	if t.State() == StateZombie {
		panic(fmt.Sprintf("thread %q: operation on a zombie thread", t.name))
	}
	if t.stack == nil {
		panic(fmt.Sprintf("thread %q: no stack assigned", t.name))
	}
}
