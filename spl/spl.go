// Package spl implements the kernel's interrupt priority level machinery.
// OS/161 only ever distinguishes two levels, interrupts-on and
// interrupts-off. SPLX compares the requested level against the thread's
// current level: a request that doesn't actually change level is a no-op,
// so redundant SPLHigh calls while already at IPLHigh cost nothing, and the
// nesting count only moves on genuine IPLNone<->IPLHigh transitions. A
// caller always restores with the value SPLHigh/SPLX returned to it, never
// a hardcoded level, so composition is correct regardless of what else
// raised or lowered the level in between.
package spl

// The two interrupt priority levels this kernel supports.
const (
	IPLNone = 0
	IPLHigh = 1
)

// Machine is the hardware hook spl uses to actually mask and unmask
// interrupts. A real target would implement this over a CPU status
// register; it is an interface here so spl has no machine-dependent code
// of its own, matching the source kernel's split between machine-
// independent spl.c and a machine-dependent cpu_irqon/cpu_irqoff.
type Machine interface {
	IRQOff()
	IRQOn()
}

// State is the per-thread interrupt bookkeeping spl needs: the thread's
// current level and its IPL_HIGH nesting count. The thread package's
// Thread type implements this directly; spl never needs to know about
// threads, CPUs, or scheduling.
type State interface {
	CurSPL() int
	SetCurSPL(int)
	IPLHighCount() int
	SetIPLHighCount(int)
}

// Raise moves from oldspl to newspl, where newspl is more restrictive
// (higher) than oldspl, incrementing the nesting count and masking
// interrupts on the first raise.
func Raise(m Machine, t State, oldspl, newspl int) {
	if oldspl != IPLNone || newspl != IPLHigh {
		panic("spl: invalid raise arguments")
	}
	if m == nil || t == nil {
		// Before per-CPU/per-thread state exists, interrupts are off anyway.
		return
	}
	if t.IPLHighCount() == 0 {
		m.IRQOff()
	}
	t.SetIPLHighCount(t.IPLHighCount() + 1)
}

// Lower moves from oldspl back down to newspl, decrementing the nesting
// count and unmasking interrupts only once it reaches zero.
func Lower(m Machine, t State, oldspl, newspl int) {
	if oldspl != IPLHigh || newspl != IPLNone {
		panic("spl: invalid lower arguments")
	}
	if m == nil || t == nil {
		return
	}
	t.SetIPLHighCount(t.IPLHighCount() - 1)
	if t.IPLHighCount() == 0 {
		m.IRQOn()
	}
}

// SPLX sets the interrupt priority level to spl and returns the level that
// was previously in effect, raising or lowering as needed. It is the
// general entry point; SPLHigh and SPL0 are convenience wrappers around it.
func SPLX(m Machine, t State, spl int) int {
	if m == nil || t == nil {
		return spl
	}
	cur := t.CurSPL()
	switch {
	case cur < spl:
		Raise(m, t, cur, spl)
		ret := cur
		t.SetCurSPL(spl)
		return ret
	case cur > spl:
		ret := cur
		t.SetCurSPL(spl)
		Lower(m, t, ret, spl)
		return ret
	default:
		return spl
	}
}

// SPLHigh raises to IPLHigh, masking all interrupts, and returns the
// previous level for a later SPLX call to restore.
func SPLHigh(m Machine, t State) int {
	return SPLX(m, t, IPLHigh)
}

// SPL0 lowers to IPLNone, unmasking interrupts (once the nesting count
// drops to zero), and returns the previous level.
func SPL0(m Machine, t State) int {
	return SPLX(m, t, IPLNone)
}
