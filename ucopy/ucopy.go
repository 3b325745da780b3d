// Package ucopy implements copyin/copyout-style transfers between kernel
// buffers and a simulated user address space, the primitive every syscall
// argument-passing and I/O path is built on. The MIPS port makes these
// safe by pointing the trap handler's "bad fault" redirect at a copyfail
// trampoline before touching user-supplied addresses, then undoing the
// redirect and translating the resulting longjmp into an EFAULT return
// (see kern/arch/mips/locore/trap.c's pcb_badfaultfunc handling). Go
// already has a built-in teleport-on-fault primitive - panic/recover -
// so this package uses that directly instead of reimplementing
// PC-rewriting: AddressSpace.ReadByte/WriteByte report a bad access as an
// error, CopyIn/CopyOut turn that into a panic that only this package's
// own recover ever observes, and trap.Dispatch's BadFaultFunc redirect
// exists purely to mirror the source's structure for faults that show up
// via the trap path rather than through one of these calls.
package ucopy

import (
	"github.com/os161go/os161go/kerrno"
)

// AddressSpace is the narrow interface into simulated user memory that
// copyin/copyout need. A real target would back this with a TLB-walking
// page table; tests and early bring-up can back it with a flat byte
// slice guarded by bounds checks.
type AddressSpace interface {
	ReadByte(uaddr uintptr) (byte, error)
	WriteByte(uaddr uintptr, b byte) error
}

type fault struct{ vaddr uintptr }

// CopyIn copies len(dst) bytes from as, starting at uaddr, into dst. It
// returns kerrno.EFAULT if any byte access fails, without touching dst
// beyond the faulting offset.
func CopyIn(as AddressSpace, uaddr uintptr, dst []byte) (err error) {
	defer recoverFault(&err)
	for i := range dst {
		b, aerr := as.ReadByte(uaddr + uintptr(i))
		if aerr != nil {
			panic(fault{uaddr + uintptr(i)})
		}
		dst[i] = b
	}
	return nil
}

// CopyOut copies src into as starting at uaddr. It returns kerrno.EFAULT
// if any byte access fails.
func CopyOut(as AddressSpace, uaddr uintptr, src []byte) (err error) {
	defer recoverFault(&err)
	for i, b := range src {
		if aerr := as.WriteByte(uaddr+uintptr(i), b); aerr != nil {
			panic(fault{uaddr + uintptr(i)})
		}
	}
	return nil
}

// CopyInString copies a NUL-terminated string out of as starting at
// uaddr, up to max bytes including the terminator. It returns
// kerrno.ENAMETOOLONG if no NUL is found within max bytes, mirroring
// copyinstr's behavior for paths longer than the caller's buffer.
func CopyInString(as AddressSpace, uaddr uintptr, max int) (s string, err error) {
	defer recoverFault(&err)
	buf := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		b, aerr := as.ReadByte(uaddr + uintptr(i))
		if aerr != nil {
			panic(fault{uaddr + uintptr(i)})
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", kerrno.ENAMETOOLONG
}

func recoverFault(err *error) {
	if r := recover(); r != nil {
		if _, ok := r.(fault); ok {
			*err = kerrno.EFAULT
			return
		}
		panic(r)
	}
}
