// Package trap implements the machine-independent half of exception
// dispatch: given a trap frame and the thread it interrupted, decide
// whether it's an interrupt, a syscall, a handleable VM fault, or a fatal
// fault, and route it accordingly. It is the Go analogue of mips_trap in
// kern/arch/mips/locore/trap.c, with the machine-dependent parts (reading
// cause/status registers, the exception-return trampoline) left to
// whatever constructs the TrapFrame.
package trap

import (
	"fmt"

	"github.com/os161go/os161go/spl"
	"github.com/os161go/os161go/thread"
)

// ExceptionCode identifies why a trap was taken, mirroring the MIPS
// exception codes pulled out of the cause register in the source kernel.
type ExceptionCode int

const (
	ExcInterrupt ExceptionCode = iota
	ExcTLBModify
	ExcTLBLoad
	ExcTLBStore
	ExcAddrErrorLoad
	ExcAddrErrorStore
	ExcBusErrorCode
	ExcBusErrorData
	ExcSyscall
	ExcBreakpoint
	ExcIllegalInstruction
	ExcCoprocUnusable
	ExcOverflow
)

var codeNames = [...]string{
	"interrupt",
	"TLB modify trap",
	"TLB miss on load",
	"TLB miss on store",
	"address error on load",
	"address error on store",
	"bus error on code",
	"bus error on data",
	"system call",
	"break instruction",
	"illegal instruction",
	"coprocessor unusable",
	"arithmetic overflow",
}

func (c ExceptionCode) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "unknown exception"
	}
	return codeNames[c]
}

// TrapFrame is the machine-independent slice of a trap frame that
// Dispatch needs: which exception fired, where, and (for syscalls) the
// numbered call plus its four register-passed arguments. Kernel records
// whether the trap was taken while already running kernel code, which the
// MIPS port derives from the status register's KUp bit; here it's the
// caller's job to know which mode the simulated CPU was in.
type TrapFrame struct {
	Code   ExceptionCode
	EPC    uintptr
	VAddr  uintptr
	Kernel bool

	SyscallNum uint64
	Args       [4]uint64
	RetVal     uint64
	RetErr     error
}

// FaultKind identifies what kind of access a VM fault was performing,
// mirroring VM_FAULT_READONLY/READ/WRITE.
type FaultKind int

const (
	FaultReadOnly FaultKind = iota
	FaultRead
	FaultWrite
)

// FaultHandler resolves a VM_FAULT-class exception, i.e. a TLB miss or
// modify trap. It returns nil if the fault was serviced and the faulting
// instruction can be retried, or an error (conventionally kerrno.EFAULT)
// if it's not resolvable, in which case Dispatch treats it as fatal.
type FaultHandler interface {
	Fault(kind FaultKind, vaddr uintptr) error
}

// SyscallHandler services an ExcSyscall trap, filling in tf.RetVal and
// tf.RetErr.
type SyscallHandler interface {
	Syscall(tf *TrapFrame)
}

// Dispatch is the general trap (exception) handling entry point,
// corresponding to mips_trap. irq, sys, and fault may be nil. A nil irq
// makes an interrupt trap do only its IPL bookkeeping; a nil fault leaves
// every TLB fault unhandled, so it takes the bad-fault redirect or the
// fatal-fault panic below; a nil sys is treated as a fatal configuration
// error, via panic, when a syscall trap arrives.
func Dispatch(tf *TrapFrame, self *thread.Thread, irq func(*TrapFrame), sys SyscallHandler, fault FaultHandler) {
	if tf.Code == ExcInterrupt {
		dispatchInterrupt(tf, self, irq)
		return
	}

	if tf.Code == ExcSyscall {
		if self.CurSPL() != spl.IPLNone || self.IPLHighCount() != 0 {
			panic("trap: syscall taken with interrupts not fully enabled")
		}
		if sys == nil {
			panic("trap: syscall trap with no SyscallHandler installed")
		}
		sys.Syscall(tf)
		return
	}

	switch tf.Code {
	case ExcTLBModify:
		if fault != nil && fault.Fault(FaultReadOnly, tf.VAddr) == nil {
			return
		}
	case ExcTLBLoad:
		if fault != nil && fault.Fault(FaultRead, tf.VAddr) == nil {
			return
		}
	case ExcTLBStore:
		if fault != nil && fault.Fault(FaultWrite, tf.VAddr) == nil {
			return
		}
	case ExcBusErrorCode, ExcBusErrorData:
		panic(fmt.Sprintf("trap: bus error exception, epc=0x%x", tf.EPC))
	}

	// Anything past this point is a fatal fault: an unhandled VM fault, or
	// one of the exceptions (illegal instruction, breakpoint, overflow,
	// ...) that always falls straight through to here.
	if !tf.Kernel {
		panic(fmt.Sprintf("trap: fatal user-mode trap (%s), epc=0x%x vaddr=0x%x", tf.Code, tf.EPC, tf.VAddr))
	}

	// A kernel-mode fault while a copyin/copyout-style access is in
	// flight isn't fatal: redirect to the bad-fault handler that access
	// installed instead of panicking. This is the Go-idiomatic analogue
	// of the MIPS port's trick of overwriting tf_epc with the address of
	// copyfail and returning from the exception handler so execution
	// "teleports" there: Go already has a control-flow teleport built in
	// (panic/recover), so ucopy uses that directly and this redirect
	// exists only to mirror the source's structure for kernel-mode faults
	// that are detected via the trap path rather than ucopy's own
	// recover.
	if bf := self.BadFaultFunc(); bf != nil {
		bf()
		return
	}

	panic(fmt.Sprintf("trap: fatal exception (%s) in kernel mode, epc=0x%x vaddr=0x%x", tf.Code, tf.EPC, tf.VAddr))
}

func dispatchInterrupt(tf *TrapFrame, self *thread.Thread, irq func(*TrapFrame)) {
	wasInInterrupt := self.InInterrupt()
	self.SetInInterrupt(true)

	// The simulated processor has already masked interrupts by the time
	// it takes an interrupt trap. If the recorded level was "interrupts
	// on", bring the bookkeeping into sync for the duration of the
	// handler and restore it after, exactly as mips_trap's doadjust dance
	// does.
	doAdjust := false
	if self.CurSPL() == spl.IPLNone {
		if self.IPLHighCount() != 0 {
			panic("trap: IPLHighCount nonzero at IPLNone")
		}
		self.SetCurSPL(spl.IPLHigh)
		self.SetIPLHighCount(1)
		doAdjust = true
	}

	if irq != nil {
		irq(tf)
	}

	if doAdjust {
		if self.CurSPL() != spl.IPLHigh || self.IPLHighCount() != 1 {
			panic("trap: interrupt handler left IPL bookkeeping inconsistent")
		}
		self.SetIPLHighCount(0)
		self.SetCurSPL(spl.IPLNone)
	}

	self.SetInInterrupt(wasInInterrupt)
}
